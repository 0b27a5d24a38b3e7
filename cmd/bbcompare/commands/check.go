package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bbcompare/internal/domain"
	"bbcompare/internal/normalize"
	"bbcompare/internal/orchestrator"
)

var (
	checkProviders    *[]string
	checkRankBy       *string
	checkCacheMode    *string
	checkRobotsBypass *bool
	checkAddress      *string
	checkAddressIndex *int
	checkMoving       *bool
	checkTimeout      *time.Duration
	checkJSON         *bool
)

func init() {
	checkProviders = checkCmd.Flags().StringSlice("providers", nil, "Provider slugs to check; all registered providers when empty.")
	checkRankBy = checkCmd.Flags().String("rank-by", "entry_price", "Ranking key: entry_price or price_per_mbps.")
	checkCacheMode = checkCmd.Flags().String("cache-mode", "auto", "Cache mode: auto, only or refresh.")
	checkRobotsBypass = checkCmd.Flags().Bool("robots-bypass", false, "Scrape providers even when robots.txt disallows it.")
	checkAddress = checkCmd.Flags().String("address", "", "Address hint for providers that ask to pick a property.")
	checkAddressIndex = checkCmd.Flags().Int("address-index", 0, "1-based address picker position when no hint matches.")
	checkMoving = checkCmd.Flags().Bool("moving", false, "Answer home-mover questions with yes.")
	checkTimeout = checkCmd.Flags().Duration("timeout", 0, "Overall deadline for the run; 0 means no deadline.")
	checkJSON = checkCmd.Flags().Bool("json", false, "Print the full report as JSON instead of a table.")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <postcode>",
	Short: "Compares broadband offers for a postcode and prints the ranking.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger, _ := zap.NewProduction()
		defer logger.Sync()

		rankBy, err := normalize.ParseRankBy(*checkRankBy)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		st, err := buildStack(logger)
		if err != nil {
			logger.Fatal("could not build comparison stack", zap.Error(err))
		}
		defer st.Close()

		req := domain.CompareRequest{
			Postcode:     args[0],
			Providers:    *checkProviders,
			CacheMode:    *checkCacheMode,
			AddressHint:  *checkAddress,
			AddressIndex: *checkAddressIndex,
		}
		if cmd.Flags().Changed("robots-bypass") {
			req.RobotsBypass = checkRobotsBypass
		}
		if cmd.Flags().Changed("moving") {
			req.Moving = checkMoving
		}

		ctx := cmd.Context()
		if *checkTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *checkTimeout)
			defer cancel()
		}

		report, err := st.orch.Compare(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		ranking := normalize.BuildTable(report.Outcomes, rankBy)

		if *checkJSON {
			printJSON(report, rankBy, ranking)
			return
		}
		printComparison(report, rankBy, ranking)
	},
}

func printJSON(report *orchestrator.Report, rankBy normalize.RankBy, ranking normalize.Table) {
	out := struct {
		RunID      string                          `json:"run_id"`
		Postcode   domain.Postcode                 `json:"postcode"`
		RankBy     normalize.RankBy                `json:"rank_by"`
		ElapsedMS  int64                           `json:"elapsed_ms"`
		Table      []normalize.ComparisonRow       `json:"table"`
		Unresolved map[string]domain.ScrapeOutcome `json:"unresolved,omitempty"`
		Outcomes   map[string]domain.ScrapeOutcome `json:"outcomes"`
		Events     []domain.StepEvent              `json:"events,omitempty"`
	}{
		RunID:      report.RunID,
		Postcode:   report.Postcode,
		RankBy:     rankBy,
		ElapsedMS:  report.Took.Milliseconds(),
		Table:      ranking.Rows,
		Unresolved: ranking.Unresolved,
		Outcomes:   report.Outcomes,
		Events:     report.Events,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printComparison(report *orchestrator.Report, rankBy normalize.RankBy, ranking normalize.Table) {
	fmt.Printf("Broadband at %s, ranked by %s:\n", report.Postcode, rankBy)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Rank", "Provider", "Plan", "Monthly", "Download", "Per Mbps", "Contract"})
	for _, row := range ranking.Rows {
		t.AppendRow(table.Row{
			row.Rank,
			row.ISP,
			row.PlanName,
			fmt.Sprintf("£%.2f", row.MonthlyPrice),
			speedCell(row.DownloadMbps),
			perMbpsCell(row.PricePerMbps),
			contractCell(row.ContractMonths),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(ranking.Unresolved) > 0 {
		fmt.Println("\nNot ranked:")
		slugs := make([]string, 0, len(ranking.Unresolved))
		for slug := range ranking.Unresolved {
			slugs = append(slugs, slug)
		}
		sort.Strings(slugs)
		for _, slug := range slugs {
			fmt.Printf("  %s: %s\n", slug, unresolvedReason(ranking.Unresolved[slug]))
		}
	}
}

func speedCell(mbps int) string {
	if mbps == 0 {
		return ""
	}
	return fmt.Sprintf("%d Mbps", mbps)
}

func perMbpsCell(ppm float64) string {
	if ppm == 0 {
		return ""
	}
	return fmt.Sprintf("£%.2f", ppm)
}

func contractCell(months int) string {
	if months == 0 {
		return ""
	}
	return fmt.Sprintf("%d mo", months)
}

func unresolvedReason(out domain.ScrapeOutcome) string {
	switch out.Status {
	case domain.StatusUnavailable:
		return "no service at this postcode"
	case domain.StatusBlocked:
		return fmt.Sprintf("blocked (%s)", out.Reason)
	case domain.StatusFailed:
		return fmt.Sprintf("check failed (%s: %s)", out.FailKind, out.Detail)
	case domain.StatusSuccess:
		return "no download speed to rank by"
	}
	return "no result"
}
