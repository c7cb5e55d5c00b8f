package main

import (
	"fmt"
	"os"

	"github.com/iabetor/rssmcp/internal/logger"
)

func main() {
	if err := rootApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rssmcp: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
