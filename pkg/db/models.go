package db

import "github.com/conviction-engine/pkg/token"

// CorrelationEdge is one persisted co-mention: two groups called the same
// token within the correlation window. GroupA sorts before GroupB so the
// pair is unordered.
type CorrelationEdge struct {
	GroupA          string     `json:"group_a"`
	GroupB          string     `json:"group_b"`
	Token           token.Mint `json:"token"`
	TimeDiffSeconds int        `json:"time_diff_seconds"` // signed, b relative to a
	Date            string     `json:"date"`              // YYYY-MM-DD
}
