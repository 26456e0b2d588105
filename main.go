// The main package for the supplierwatch executable.
package main

import (
	"github.com/JakeFAU/supplier-discovery/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
