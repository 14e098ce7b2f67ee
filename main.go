// The main package for the archiver executable.
package main

import (
	"github.com/JakeFAU/feed-archiver/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
