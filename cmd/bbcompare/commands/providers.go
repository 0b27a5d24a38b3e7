package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bbcompare/internal/adapter"
	"bbcompare/internal/config"
)

func init() {
	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Lists the providers bbcompare can check.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := registerCustomProviders(cfg.ProvidersJSON); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Slug", "Provider", "Checker URL"})
		for _, a := range adapter.All() {
			t.AppendRow(table.Row{a.Slug(), a.Name(), a.StartURL()})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
