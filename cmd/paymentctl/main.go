package main

import (
	"fmt"
	"os"

	"github.com/cashflow/payment-orchestrator/internal/config"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd(config.LoadFile)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
