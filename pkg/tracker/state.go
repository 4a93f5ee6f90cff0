package tracker

import (
	"sync"
	"time"

	"github.com/conviction-engine/pkg/conviction"
	"github.com/conviction-engine/pkg/token"
)

// Status is a token's lifecycle position.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCooling Status = "COOLING"
	StatusEmitted Status = "EMITTED"
	StatusDropped Status = "DROPPED"
)

// TokenState is the per-token tracking record. All mutation happens inside
// the token's serialized work queue or under mu (the lifecycle sweep).
type TokenState struct {
	mu sync.Mutex

	Mint         token.Mint
	Status       Status
	Trigger      token.Trigger
	FirstSeen    time.Time
	LastActivity time.Time
	Graduated    bool

	KOLsSeen     map[string]struct{}
	GroupsSeen   map[string]struct{}
	MentionCount int

	LastSnapshot *token.Snapshot
	LastResult   *conviction.Result
	PrevTop10    float64 // top-10 concentration from the prior holder snapshot

	PollCycles int
	LowStreak  int

	Emitted  bool
	SignalID string

	CoolingSince time.Time

	pollingOn   bool
	nextPollAt  time.Time
	backoffStep int
}

func newTokenState(m token.Mint, trig token.Trigger, at time.Time) *TokenState {
	return &TokenState{
		Mint:         m,
		Status:       StatusActive,
		Trigger:      trig,
		FirstSeen:    at,
		LastActivity: at,
		KOLsSeen:     make(map[string]struct{}),
		GroupsSeen:   make(map[string]struct{}),
	}
}

// fetchBackoff is the re-poll delay after consecutive fetch failures.
func fetchBackoff(step int) time.Duration {
	switch {
	case step <= 1:
		return 5 * time.Second
	case step == 2:
		return 15 * time.Second
	case step == 3:
		return 45 * time.Second
	}
	return 2 * time.Minute
}
