package main

import (
	"fmt"
	"os"

	"github.com/taurusgroup/p2p-wager/cmd/arbiterd/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}
