package main

import (
	"fmt"
	"os"

	"github.com/aussiebroadwan/swellwatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "swellctl:", err)
		os.Exit(1)
	}
}
