package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, DrillflowError(err.Error()))
		os.Exit(1)
	}
}
