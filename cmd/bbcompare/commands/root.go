// Package commands holds the bbcompare CLI: an HTTP server mode and
// one-shot comparison commands sharing the same scraping stack.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bbcompare",
	Short: "bbcompare checks UK broadband availability and prices across provider sites.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
