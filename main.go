// The main package for the milestones executable.
package main

import (
	"github.com/JakeFAU/milestone-tracker/cmd"
)

func main() {
	cmd.Execute()
}
