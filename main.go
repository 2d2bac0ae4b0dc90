package main

import (
	"github.com/wraithsec/wraith-cli/cmd"
)

// main is the entry point for the wraith CLI.
func main() {
	cmd.Execute()
}
