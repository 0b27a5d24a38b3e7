package domain

// OutcomeStatus discriminates the variants of a ScrapeOutcome.
type OutcomeStatus string

const (
	StatusSuccess     OutcomeStatus = "success"
	StatusUnavailable OutcomeStatus = "unavailable"
	StatusBlocked     OutcomeStatus = "blocked"
	StatusFailed      OutcomeStatus = "failed"
)

// ParseOutcomeStatus validates a persisted status string.
func ParseOutcomeStatus(s string) (OutcomeStatus, bool) {
	switch OutcomeStatus(s) {
	case StatusSuccess, StatusUnavailable, StatusBlocked, StatusFailed:
		return OutcomeStatus(s), true
	}
	return "", false
}

// FailureKind names why a scrape attempt failed.
type FailureKind string

const (
	FailNavigation FailureKind = "navigation" // selector or page not found
	FailTimeout    FailureKind = "timeout"    // a bounded step exceeded its deadline
	FailParse      FailureKind = "parse"      // page structure changed / fields missing
	FailCancelled  FailureKind = "cancelled"  // caller gave up before the scrape finished
	FailSession    FailureKind = "session"    // provider invalidated the browsing session
	FailCacheIO    FailureKind = "cache_io"   // persisted store unreadable/unwritable
)

// ScrapeOutcome is the terminal result of one scrape attempt for one provider.
// Exactly one variant applies: Success carries a Quote, Blocked a Reason,
// Failed a FailureKind plus detail. Adapters never raise errors across their
// boundary; everything surfaces as one of these.
type ScrapeOutcome struct {
	Provider string        `json:"provider"`
	Postcode string        `json:"postcode"`
	Status   OutcomeStatus `json:"status"`
	Quote    *Quote        `json:"quote,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	FailKind FailureKind   `json:"fail_kind,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// Success wraps a quote in a terminal success outcome.
func Success(quote Quote) ScrapeOutcome {
	return ScrapeOutcome{
		Provider: quote.Provider,
		Postcode: quote.Postcode,
		Status:   StatusSuccess,
		Quote:    &quote,
	}
}

// Unavailable reports that the provider does not serve the postcode.
func Unavailable(provider, postcode string) ScrapeOutcome {
	return ScrapeOutcome{
		Provider: provider,
		Postcode: postcode,
		Status:   StatusUnavailable,
	}
}

// Blocked reports that policy (robots.txt) prevented the scrape.
func Blocked(provider, postcode, reason string) ScrapeOutcome {
	return ScrapeOutcome{
		Provider: provider,
		Postcode: postcode,
		Status:   StatusBlocked,
		Reason:   reason,
	}
}

// Failed reports a scrape attempt that ended in an error.
func Failed(provider, postcode string, kind FailureKind, detail string) ScrapeOutcome {
	return ScrapeOutcome{
		Provider: provider,
		Postcode: postcode,
		Status:   StatusFailed,
		FailKind: kind,
		Detail:   detail,
	}
}

// IsSuccess reports whether the outcome carries a usable quote.
func (o ScrapeOutcome) IsSuccess() bool {
	return o.Status == StatusSuccess && o.Quote != nil
}
