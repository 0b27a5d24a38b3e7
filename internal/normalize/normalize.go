// Package normalize flattens heterogeneous per-provider outcomes into one
// ranked comparison table.
package normalize

import (
	"fmt"
	"sort"

	"bbcompare/internal/domain"
)

// RankBy selects the ranking key for the comparison table.
type RankBy string

const (
	RankByEntryPrice   RankBy = "entry_price"
	RankByPricePerMbps RankBy = "price_per_mbps"
)

// ParseRankBy validates a requested ranking key. Empty selects entry price.
func ParseRankBy(raw string) (RankBy, error) {
	switch RankBy(raw) {
	case "", RankByEntryPrice:
		return RankByEntryPrice, nil
	case RankByPricePerMbps:
		return RankByPricePerMbps, nil
	}
	return "", fmt.Errorf("unknown rank_by %q (want entry_price or price_per_mbps)", raw)
}

// ComparisonRow is one ranked entry in the cross-provider table. Derived,
// never persisted.
type ComparisonRow struct {
	ISP            string  `json:"isp"`
	PlanName       string  `json:"plan_name,omitempty"`
	MonthlyPrice   float64 `json:"monthly_price_gbp"`
	DownloadMbps   int     `json:"download_mbps"`
	PricePerMbps   float64 `json:"price_per_mbps,omitempty"`
	ContractMonths int     `json:"contract_months,omitempty"`
	Plans          int     `json:"plans,omitempty"`
	Rank           int     `json:"rank"`
}

// Table is the result of one BuildTable call: ranked rows from the Success
// outcomes, and everything that could not be ranked reported separately so
// callers can show "N providers could not be checked".
type Table struct {
	Rows       []ComparisonRow                 `json:"rows"`
	Unresolved map[string]domain.ScrapeOutcome `json:"unresolved,omitempty"`
}

// BuildTable ranks the Success outcomes ascending by the chosen key, ties
// broken by provider for determinism. Price-per-Mbps is undefined for a
// zero download speed; under that ranking such rows move to Unresolved
// rather than being dropped silently.
func BuildTable(outcomes map[string]domain.ScrapeOutcome, rankBy RankBy) Table {
	table := Table{Unresolved: make(map[string]domain.ScrapeOutcome)}

	for isp, outcome := range outcomes {
		if !outcome.IsSuccess() {
			table.Unresolved[isp] = outcome
			continue
		}
		quote := outcome.Quote
		if rankBy == RankByPricePerMbps && quote.DownloadMbps == 0 {
			table.Unresolved[isp] = outcome
			continue
		}
		row := ComparisonRow{
			ISP:            isp,
			PlanName:       headlinePlanName(*quote),
			MonthlyPrice:   quote.MonthlyPrice,
			DownloadMbps:   quote.DownloadMbps,
			ContractMonths: quote.ContractMonths,
			Plans:          len(quote.Plans),
		}
		if quote.DownloadMbps > 0 {
			row.PricePerMbps = quote.MonthlyPrice / float64(quote.DownloadMbps)
		}
		table.Rows = append(table.Rows, row)
	}

	key := func(r ComparisonRow) float64 {
		if rankBy == RankByPricePerMbps {
			return r.PricePerMbps
		}
		return r.MonthlyPrice
	}
	sort.Slice(table.Rows, func(i, j int) bool {
		ki, kj := key(table.Rows[i]), key(table.Rows[j])
		if ki != kj {
			return ki < kj
		}
		return table.Rows[i].ISP < table.Rows[j].ISP
	})
	for i := range table.Rows {
		table.Rows[i].Rank = i + 1
	}
	if len(table.Unresolved) == 0 {
		table.Unresolved = nil
	}
	return table
}

// headlinePlanName names the plan the quote's headline price and speed came
// from. Quotes without a plan breakdown rank fine without one.
func headlinePlanName(q domain.Quote) string {
	for _, p := range q.Plans {
		if p.MonthlyPrice == q.MonthlyPrice && p.DownloadMbps == q.DownloadMbps {
			return p.Name
		}
	}
	return ""
}
