package token

import "time"

// Signal is one emitted conviction record. Breakdown is frozen at emission;
// only the outcome fields are updated afterwards.
type Signal struct {
	ID            string         `json:"id"`
	Token         Mint           `json:"token"`
	Symbol        string         `json:"symbol"`
	Score         int            `json:"score"`
	Breakdown     map[string]int `json:"breakdown"`
	Reasons       []string       `json:"reasons,omitempty"`
	TriggerSource Trigger        `json:"trigger_source"`
	TopEvidence   string         `json:"top_evidence"` // what moved it over threshold
	EntryPriceUSD float64        `json:"entry_price_usd"`
	EmittedAt     time.Time      `json:"emitted_at"`
	EmitFailed    bool           `json:"emit_failed"`

	// Filled in later by the outcome sweep.
	Outcome          string    `json:"outcome"` // open|rug|dud|2x|5x|10x|moon
	PeakMultiple     float64   `json:"peak_multiple"`
	RugFlag          bool      `json:"rug_flag"`
	OutcomeUpdatedAt time.Time `json:"outcome_updated_at"`
}

// Outcome categories set by the outcome sweep.
const (
	OutcomeOpen = "open"
	OutcomeRug  = "rug"
	OutcomeDud  = "dud"
	Outcome2x   = "2x"
	Outcome5x   = "5x"
	Outcome10x  = "10x"
	OutcomeMoon = "moon"
)

// CategorizeOutcome maps a peak multiple (and rug evidence) to a category.
func CategorizeOutcome(peak float64, rugged bool) string {
	switch {
	case rugged:
		return OutcomeRug
	case peak >= 20:
		return OutcomeMoon
	case peak >= 10:
		return Outcome10x
	case peak >= 5:
		return Outcome5x
	case peak >= 2:
		return Outcome2x
	case peak > 0:
		return OutcomeDud
	}
	return OutcomeOpen
}
