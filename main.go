// The main package for the fleet executable.
package main

import (
	"github.com/JakeFAU/crawler-fleet/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
