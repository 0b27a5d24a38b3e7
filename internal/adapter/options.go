package adapter

import (
	"sync"
	"time"

	"bbcompare/internal/domain"
)

// Options carries the per-run inputs a flow needs beyond the postcode:
// address disambiguation, the moving-home answer, extra form values keyed by
// label substring, and the wizard step budget.
type Options struct {
	Postcode     domain.Postcode
	AddressHint  string
	AddressIndex int // 1-based; used when AddressHint matches nothing
	Moving       *bool
	ExtraFields  map[string]string
	MaxSteps     int

	// AllowURL gates every navigation the flow performs beyond its entry
	// point. Nil allows everything; the orchestrator wires the robots gate
	// in here so fallback paths honor the same policy as start URLs.
	AllowURL func(rawURL string) bool

	// Recorder receives the step trail. Shared by reference so the caller
	// keeps the events after the flow returns.
	Recorder *Recorder
}

func (o Options) withDefaults() Options {
	if o.AddressIndex < 1 {
		o.AddressIndex = 1
	}
	if o.MaxSteps < 1 {
		o.MaxSteps = 6
	}
	if o.Recorder == nil {
		o.Recorder = NewRecorder()
	}
	return o
}

// Recorder accumulates the step-by-step trail of a scrape: what was
// navigated, what was skipped and why, how many pages and wizard steps it
// took. Safe for concurrent use; the counters are per-scrape, so the
// orchestrator hands each provider its own Recorder.
type Recorder struct {
	mu     sync.Mutex
	events []domain.StepEvent
	pages  int
	wizard int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Step appends one trail event, snapshotting the current counters.
func (r *Recorder) Step(provider, url, step, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.StepEvent{
		Provider:    provider,
		URL:         url,
		Step:        step,
		Detail:      detail,
		Pages:       r.pages,
		WizardSteps: r.wizard,
		At:          time.Now().UTC(),
	})
}

// Page counts one completed navigation.
func (r *Recorder) Page() {
	r.mu.Lock()
	r.pages++
	r.mu.Unlock()
}

// Wizard counts one interstitial step handled (address picked, question
// answered, form filled, continue clicked).
func (r *Recorder) Wizard() {
	r.mu.Lock()
	r.wizard++
	r.mu.Unlock()
}

// Events returns a copy of the trail so far.
func (r *Recorder) Events() []domain.StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StepEvent, len(r.events))
	copy(out, r.events)
	return out
}
