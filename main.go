// The main package for the automation scheduler executable.
package main

import (
	"github.com/customeros/customeros-sub005/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
