package main

import (
	"fmt"
	"os"

	"github.com/thiagokokada/gitk-sync/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gitk-sync: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
