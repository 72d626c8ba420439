package main

import (
	"os"
)

func main() {
	if err := NewCLI(os.Stdout, os.Stderr).Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
