package conviction

import (
	"fmt"
	"time"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/token"
)

// Decision is the engine's verdict for one scoring pass.
type Decision string

const (
	Emit Decision = "EMIT"
	Hold Decision = "HOLD"
	Drop Decision = "DROP"
)

// Breakdown phase keys. One entry per executed phase, including zero and
// negative contributions, so logs and tests can assert on each.
const (
	PhaseSmartWallet  = "smart_wallet"
	PhaseSanity       = "sanity"
	PhaseBundle       = "bundle"
	PhaseUniqueBuyers = "unique_buyers"
	PhaseVolume       = "volume"
	PhaseSocial       = "social"
	PhasePressure     = "pressure"
	PhaseHolders      = "holders"
	PhaseRug          = "rug"
	PhaseConvergence  = "convergence"
)

// StateView is the slice of tracker state scoring needs.
type StateView struct {
	Trigger        token.Trigger
	Graduated      bool
	PrevTop10Pct   float64 // 0 when no prior holder snapshot
	AlreadyEmitted bool
}

// SocialView carries the windowed mention counts for the convergence phase.
type SocialView struct {
	Mentions5m    int
	Mentions10m   int
	Mentions30m   int
	Groups10m     int
	Groups30m     int
	LatestMention time.Time
}

// Result is one full scoring pass. MidTotal is the sum of phases 1+3+4+5 and
// drives the mid gate and the tracker's polling decision.
type Result struct {
	Total     int            `json:"total"`
	MidTotal  int            `json:"mid_total"`
	Breakdown map[string]int `json:"breakdown"`
	Decision  Decision       `json:"decision"`
	Reasons   []string       `json:"reasons,omitempty"`
}

// Engine is the deterministic scoring pipeline. It holds configuration only;
// every pass is a pure function of its inputs.
type Engine struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Engine { return &Engine{cfg: cfg} }

// Score runs the phase pipeline over one token's materialised inputs.
// now pins the clock so replays are reproducible.
func (e *Engine) Score(snap *token.Snapshot, ev evidence.View, social SocialView, st StateView, now time.Time) Result {
	r := Result{Breakdown: map[string]int{}}

	// Phase 1 — smart wallet activity
	r.Breakdown[PhaseSmartWallet] = e.smartWallet(ev)

	// A stale snapshot means no provider answered; evidence keeps
	// accumulating but nothing downstream of phase 1 is admissible.
	if snap == nil || snap.Stale {
		r.MidTotal = r.Breakdown[PhaseSmartWallet]
		r.Total = r.MidTotal
		r.Decision = Hold
		r.Reasons = append(r.Reasons, "snapshot stale, phases 2-10 skipped")
		return r
	}

	// Phase 2 — base snapshot sanity, hard gate
	if reason := e.sanityGate(snap); reason != "" {
		r.Breakdown[PhaseSanity] = 0
		r.MidTotal = r.Breakdown[PhaseSmartWallet]
		r.Total = r.MidTotal
		r.Decision = Drop
		r.Reasons = append(r.Reasons, reason)
		return r
	}
	r.Breakdown[PhaseSanity] = 0

	// Phases 3-5
	r.Breakdown[PhaseBundle] = e.bundle(snap)
	r.Breakdown[PhaseUniqueBuyers] = e.uniqueBuyers(ev)
	r.Breakdown[PhaseVolume] = e.volume(snap)

	r.MidTotal = r.Breakdown[PhaseSmartWallet] + r.Breakdown[PhaseBundle] +
		r.Breakdown[PhaseUniqueBuyers] + r.Breakdown[PhaseVolume]

	// Mid gate. HOLD, not DROP: the token keeps accumulating evidence.
	if r.MidTotal < e.cfg.MidGate {
		r.Total = r.MidTotal
		r.Decision = Hold
		r.Reasons = append(r.Reasons, fmt.Sprintf("mid gate: %d < %d", r.MidTotal, e.cfg.MidGate))
		return r
	}

	// Phases 6-9
	r.Breakdown[PhaseSocial] = e.social(snap, &r)
	r.Breakdown[PhasePressure] = e.pressure(snap)
	r.Breakdown[PhaseHolders] = e.holders(snap, st, &r)
	r.Breakdown[PhaseRug] = e.rug(snap)

	lateTotal := r.MidTotal + r.Breakdown[PhaseSocial] + r.Breakdown[PhasePressure] +
		r.Breakdown[PhaseHolders] + r.Breakdown[PhaseRug]

	// Phase 10 — social convergence, gated on everything before it
	if lateTotal >= e.cfg.MidGate {
		r.Breakdown[PhaseConvergence] = e.convergence(social, now, &r)
	} else {
		r.Breakdown[PhaseConvergence] = 0
		r.Reasons = append(r.Reasons, "convergence gate not met")
	}

	r.Total = lateTotal + r.Breakdown[PhaseConvergence]

	threshold := e.cfg.Threshold(snap.Graduated || st.Graduated)
	switch {
	case r.Total >= threshold && st.AlreadyEmitted:
		r.Decision = Hold
		r.Reasons = append(r.Reasons, "already emitted")
	case r.Total >= threshold:
		r.Decision = Emit
	default:
		r.Decision = Hold
	}
	return r
}

// smartWallet scores distinct KOL buys by tier, with a multi-KOL bonus.
func (e *Engine) smartWallet(ev evidence.View) int {
	pts := 0
	for _, wb := range ev.KOLBuys {
		pts += wb.Tier.Weight()
	}
	if n := ev.DistinctKOLs; n >= 2 {
		pts += 15 + 5*(n-2)
	}
	return minInt(pts, e.cfg.Weights.SmartWallet)
}

// sanityGate returns a non-empty reason when the snapshot fails the hard gate.
func (e *Engine) sanityGate(snap *token.Snapshot) string {
	if e.cfg.IsIgnored(snap.Mint) {
		return "ignored token"
	}
	if snap.Risk.LPRemoved {
		return "rug risk: LP removed"
	}
	if snap.Risk.Honeypot {
		return "rug risk: honeypot"
	}
	if snap.Quality < 50 {
		return fmt.Sprintf("snapshot quality %d < 50", snap.Quality)
	}
	if snap.LiquidityUSD < e.cfg.LiquidityFloorUSD {
		return fmt.Sprintf("liquidity $%.0f below floor $%.0f", snap.LiquidityUSD, e.cfg.LiquidityFloorUSD)
	}
	if e.cfg.MCapCeilingUSD > 0 && snap.MarketCapUSD > e.cfg.MCapCeilingUSD {
		return fmt.Sprintf("mcap $%.0f above ceiling $%.0f", snap.MarketCapUSD, e.cfg.MCapCeilingUSD)
	}
	return ""
}

// bundle penalises sniper automation, -5 per related buy in one block.
func (e *Engine) bundle(snap *token.Snapshot) int {
	if !snap.Risk.Bundled || snap.Risk.BundleSize <= 0 {
		return 0
	}
	return maxInt(-5*snap.Risk.BundleSize, -e.cfg.Weights.Bundle)
}

func (e *Engine) uniqueBuyers(ev evidence.View) int {
	var pts int
	switch n := ev.UniqueBuyers; {
	case n >= 30:
		pts = 15
	case n >= 15:
		pts = 10
	case n >= 5:
		pts = 6
	case n >= 1:
		pts = 3
	}
	return minInt(pts, e.cfg.Weights.UniqueBuyers)
}

// volume scores the volume ratio, momentum, and curve velocity together.
func (e *Engine) volume(snap *token.Snapshot) int {
	pts := 0

	if snap.LiquidityUSD > 0 {
		switch ratio := snap.Volume1h / snap.LiquidityUSD; {
		case ratio >= 2.0:
			pts += 10
		case ratio >= 1.25:
			pts += 7
		case ratio >= 1.0:
			pts += 3
		}
	}

	switch chg := snap.PriceChange1h; {
	case chg >= 50:
		pts += 10
	case chg >= 30:
		pts += 7
	case chg >= 10:
		pts += 3
	case chg < -20:
		pts -= 5
	}

	if !snap.Graduated {
		switch v := snap.CurveVelocity; {
		case v >= 30:
			pts += 10
		case v >= 20:
			pts += 8
		case v >= 10:
			pts += 5
		case v >= 5:
			pts += 3
		case v >= 2:
			pts += 1
		}
	}

	return minInt(pts, e.cfg.Weights.Volume)
}

// social verifies the token's public footprint. Floor fixed at -25 (boosted).
func (e *Engine) social(snap *token.Snapshot, r *Result) int {
	if !e.cfg.SocialPhaseEnabled {
		r.Reasons = append(r.Reasons, "social phase disabled")
		return 0
	}

	pts := 0
	s := snap.Socials
	switch {
	case s.Twitter && s.Telegram:
		pts += 8
	case s.Twitter || s.Telegram:
		pts += 4
	}
	if s.Website {
		pts += 5
	}
	if s.Discord {
		pts += 3
	}
	if !s.Any() {
		pts -= 15
	}
	if snap.Boosted {
		pts -= 25
	}
	return clampInt(pts, -25, e.cfg.Weights.Social)
}

// pressure scores the 24h buy/sell ratio; thin tapes are neutral.
func (e *Engine) pressure(snap *token.Snapshot) int {
	total := snap.Buys24h + snap.Sells24h
	if total < 20 {
		return minInt(8, e.cfg.Weights.Pressure)
	}
	var pts int
	switch ratio := float64(snap.Buys24h) / float64(total); {
	case ratio >= 0.80:
		pts = 18
	case ratio >= 0.70:
		pts = 14
	case ratio >= 0.50:
		pts = 10
	case ratio >= 0.30:
		pts = 6
	default:
		pts = 2
	}
	return minInt(pts, e.cfg.Weights.Pressure)
}

// holders penalises concentration. Skipped with an annotation when holder
// data was not fetched.
func (e *Engine) holders(snap *token.Snapshot, st StateView, r *Result) int {
	if !e.cfg.HolderPhaseEnabled {
		r.Reasons = append(r.Reasons, "holder phase disabled")
		return 0
	}
	if !snap.HoldersKnown {
		r.Reasons = append(r.Reasons, "holder data missing, phase skipped")
		return 0
	}

	pts := 0
	switch top10 := snap.Top10Pct; {
	case top10 >= 70:
		pts = -40
	case top10 >= 50:
		pts = -20
	case top10 >= 30:
		pts = -10
	}
	pts = maxInt(pts, -e.cfg.Weights.Holders)

	if st.PrevTop10Pct > 0 && snap.Top10Pct < st.PrevTop10Pct {
		pts += 5
	}
	return pts
}

func (e *Engine) rug(snap *token.Snapshot) int {
	pts := 0
	if snap.Risk.RugScore > 3 {
		pts -= 10
	}
	if snap.Risk.DevSoldPct > 20 {
		pts -= 20
	}
	return maxInt(pts, -e.cfg.Weights.Rug)
}

// convergence scores chat-group agreement over the last 10 minutes, with a
// multi-call bonus over 30 minutes. Total capped at the configured weight.
func (e *Engine) convergence(social SocialView, now time.Time, r *Result) int {
	if !e.cfg.SocialPhaseEnabled {
		return 0
	}

	pts := 0
	switch {
	case social.Mentions10m >= 6 || social.Groups10m >= 3:
		pts = 15
	case social.Mentions10m >= 3 || social.Mentions5m >= 2:
		pts = 10
	case social.Mentions10m >= 1:
		pts = 5
	}

	// A quiet chat is a fading call.
	if !social.LatestMention.IsZero() && now.Sub(social.LatestMention) > 2*time.Hour {
		pts /= 2
		r.Reasons = append(r.Reasons, "latest mention >2h old, convergence halved")
	}

	multi := 0
	if social.Mentions30m >= 3 {
		multi += 10
	}
	if social.Groups30m >= 3 {
		multi += 15
	}
	pts += minInt(multi, 20)

	return minInt(pts, e.cfg.Weights.Convergence)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int { return maxInt(lo, minInt(v, hi)) }
