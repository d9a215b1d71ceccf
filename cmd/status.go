package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/server"
	"github.com/JakeFAU/milestone-tracker/internal/tracker"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	currentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Read the status document once and print the progress timeline.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			view, err := loadView(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			renderTimeline(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the progress view as JSON")
	return cmd
}

// loadView performs a single fetch. A failed fetch still yields the view for
// step 1 so the timeline can be printed.
func loadView(ctx context.Context, rt *runtime) (tracker.View, error) {
	c, err := server.LoadCatalog(rt.cfg.Catalog)
	if err != nil {
		return tracker.View{}, err
	}
	fetcher, closeFetcher, err := server.NewFetcher(ctx, rt.cfg, c)
	if err != nil {
		return tracker.View{}, err
	}
	defer func() {
		if err := closeFetcher(); err != nil {
			rt.logger.Warn("status source close failed", zap.Error(err))
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, rt.cfg.Poll.FetchTimeout)
	defer cancel()
	snap, err := fetcher.Fetch(fetchCtx)
	if err != nil {
		rt.logger.Warn("status document unavailable", zap.Error(err))
		return tracker.NewView(c, 1, false, time.Time{}), nil
	}
	return tracker.NewView(c, tracker.CurrentStep(c, snap), true, time.Now().UTC()), nil
}

func renderTimeline(w io.Writer, v tracker.View) {
	var b strings.Builder
	header := fmt.Sprintf("step %d of %d (%d%%)", v.DisplayStep, v.Total, v.Percent)
	if v.Done() {
		header = fmt.Sprintf("all %d milestones complete", v.Total)
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	if !v.HasSnapshot {
		b.WriteString(detailStyle.Render("status document unavailable"))
		b.WriteString("\n")
	}
	for _, m := range v.Milestones {
		var marker string
		style := pendingStyle
		switch m.State {
		case tracker.StateCompleted:
			marker, style = "✓", completedStyle
		case tracker.StateCurrent:
			marker, style = "●", currentStyle
		default:
			marker = "○"
		}
		b.WriteString(style.Render(marker + " " + m.Label))
		if m.Detail != "" {
			b.WriteString("  ")
			b.WriteString(detailStyle.Render(m.Detail))
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(w, b.String())
}
