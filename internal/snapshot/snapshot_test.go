package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
)

func TestDecodeStrictBooleans(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	raw := []byte(`{
		"idea_locked": true,
		"first_screen": "true",
		"features_added": 1,
		"deployed": null,
		"unknown_key": true
	}`)

	snap, err := Decode(c, raw)
	require.NoError(t, err)
	require.Len(t, snap, c.Len())
	require.True(t, snap.Completed("idea_locked"))
	require.False(t, snap.Completed("first_screen"))
	require.False(t, snap.Completed("features_added"))
	require.False(t, snap.Completed("deployed"))
	require.False(t, snap.Completed("shared"))
	_, hasUnknown := snap["unknown_key"]
	require.False(t, hasUnknown)
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	for _, raw := range []string{`[true]`, `"x"`, `null`, `{`, ``} {
		_, err := Decode(c, []byte(raw))
		require.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func TestFromFlagsAndClone(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	snap := FromFlags(c, true, true)
	require.Equal(t, Snapshot{
		"idea_locked":    true,
		"first_screen":   true,
		"features_added": false,
		"deployed":       false,
		"shared":         false,
	}, snap)

	cp := snap.Clone()
	cp["shared"] = true
	require.False(t, snap["shared"])
	require.Nil(t, Snapshot(nil).Clone())
}
