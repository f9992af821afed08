package main

import (
	"fmt"
	"os"

	"github.com/claudiasc89/image-analysis-portfolio/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
