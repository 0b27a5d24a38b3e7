package domain

import "time"

// CompareRequest is the payload for the API
type CompareRequest struct {
	Postcode     string            `json:"postcode"`
	Providers    []string          `json:"providers,omitempty"` // empty = all registered
	RankBy       string            `json:"rank_by,omitempty"`
	RobotsBypass *bool             `json:"robots_bypass,omitempty"` // nil = use server default
	CacheMode    string            `json:"cache_mode,omitempty"`    // auto | only | refresh
	AddressHint  string            `json:"address_hint,omitempty"`
	AddressIndex int               `json:"address_index,omitempty"` // 1-based
	Moving       *bool             `json:"moving,omitempty"`        // nil = auto-detect
	ExtraFields  map[string]string `json:"extra_fields,omitempty"`
	MaxSteps     int               `json:"max_steps,omitempty"`
}

// Plan is a single broadband offer extracted from a provider's results page.
type Plan struct {
	Name           string  `json:"name,omitempty"`
	DownloadMbps   int     `json:"download_mbps"`
	MonthlyPrice   float64 `json:"monthly_price_gbp"`
	UpfrontFee     float64 `json:"upfront_fee_gbp,omitempty"`
	ContractMonths int     `json:"contract_months,omitempty"`
	SampleText     string  `json:"sample_text,omitempty"`
	RowID          string  `json:"row_id,omitempty"`
}

// Quote holds the extracted availability information for one provider at one
// postcode. The headline price/speed fields come from the cheapest plan; the
// full plan list is preserved for comparison views.
type Quote struct {
	Provider       string    `json:"provider"`
	Postcode       string    `json:"postcode"`
	Available      bool      `json:"available"`
	MonthlyPrice   float64   `json:"monthly_price_gbp,omitempty"`
	DownloadMbps   int       `json:"download_mbps,omitempty"`
	UploadMbps     int       `json:"upload_mbps,omitempty"`
	ContractMonths int       `json:"contract_months,omitempty"`
	Plans          []Plan    `json:"plans,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
	SourceURL      string    `json:"source_url"`
}

// CacheEntry is one persisted scrape result, keyed by (postcode, provider).
// Entries are never purged eagerly; readers treat anything older than the
// freshness window as absent.
type CacheEntry struct {
	Postcode string        `json:"postcode"`
	Provider string        `json:"provider"`
	Outcome  ScrapeOutcome `json:"outcome"`
	StoredAt time.Time     `json:"stored_at"`
}

// Age reports how long ago the entry was stored.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// StepEvent is one row of the scrape status trail: navigation, cache and
// robots decisions, wizard progress. Pages and WizardSteps carry the running
// counters at the time the event was recorded.
type StepEvent struct {
	Provider    string    `json:"provider"`
	URL         string    `json:"url,omitempty"`
	Step        string    `json:"step"`
	Detail      string    `json:"detail,omitempty"`
	Pages       int       `json:"pages"`
	WizardSteps int       `json:"wizard_steps"`
	At          time.Time `json:"at"`
}
