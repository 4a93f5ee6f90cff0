package conviction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/token"
)

func testConfig() *config.Config {
	return &config.Config{
		ThresholdPreGrad:  45,
		ThresholdPostGrad: 50,
		MidGate:           60,
		LiquidityFloorUSD: 8000,
		Weights: config.Weights{
			SmartWallet:  40,
			Bundle:       40,
			UniqueBuyers: 15,
			Volume:       30,
			Social:       16,
			Pressure:     20,
			Holders:      40,
			Rug:          40,
			Convergence:  25,
		},
		SocialPhaseEnabled: true,
		HolderPhaseEnabled: true,
		IgnoreTokens: map[token.Mint]bool{
			"So11111111111111111111111111111111111111112": true,
		},
	}
}

func buys(tiers ...token.Tier) evidence.View {
	v := evidence.View{}
	for i, tr := range tiers {
		v.KOLBuys = append(v.KOLBuys, evidence.WalletBuy{Wallet: string(rune('a' + i)), Tier: tr})
	}
	v.DistinctKOLs = len(v.KOLBuys)
	v.KOLCount = len(v.KOLBuys)
	return v
}

func goodSnapshot() *token.Snapshot {
	return &token.Snapshot{
		Mint:         "mintT",
		LiquidityUSD: 25000,
		Quality:      90,
		Graduated:    true,
		FetchedAt:    time.Now(),
	}
}

// S1: single elite KOL, liquidity below the floor — hard gate drops it and
// nothing past phase 2 lands in the breakdown.
func TestSingleEliteLowLiquidityDrops(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.LiquidityUSD = 3000

	r := e.Score(snap, buys(token.TierElite), SocialView{}, StateView{}, time.Now())

	assert.Equal(t, Drop, r.Decision)
	assert.Contains(t, r.Breakdown, PhaseSmartWallet)
	assert.Contains(t, r.Breakdown, PhaseSanity)
	assert.NotContains(t, r.Breakdown, PhaseBundle)
	assert.NotContains(t, r.Breakdown, PhaseVolume)
	require.Len(t, r.Reasons, 1)
	assert.Contains(t, r.Reasons[0], "below floor")
}

// S2: elite + top KOL, strong tape, clean distribution — emits at 96.
func TestEliteAndTopKOLEmits(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.Volume1h = 40000 // ratio 1.6 -> +7
	snap.PriceChange1h = 35
	snap.Buys24h = 75
	snap.Sells24h = 25
	snap.Top10Pct = 25
	snap.HoldersKnown = true
	snap.Socials = token.Socials{Twitter: true, Telegram: true, Website: true}

	ev := buys(token.TierElite, token.TierTopKOL)
	ev.UniqueBuyers = 40

	r := e.Score(snap, ev, SocialView{}, StateView{}, time.Now())

	assert.Equal(t, 40, r.Breakdown[PhaseSmartWallet], "25 base + 15 multi, capped")
	assert.Equal(t, 15, r.Breakdown[PhaseUniqueBuyers])
	assert.Equal(t, 14, r.Breakdown[PhaseVolume])
	assert.Equal(t, 13, r.Breakdown[PhaseSocial])
	assert.Equal(t, 14, r.Breakdown[PhasePressure])
	assert.Equal(t, 0, r.Breakdown[PhaseHolders])
	assert.Equal(t, 69, r.MidTotal)
	assert.Equal(t, 96, r.Total)
	assert.Equal(t, Emit, r.Decision)
}

// S3: bundle of 6 drags the mid total to -6 — held at the mid gate.
func TestBundleHeavyHolds(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.Risk.Bundled = true
	snap.Risk.BundleSize = 6
	snap.Volume1h = 25000 // ratio 1.0 -> +3

	ev := buys(token.TierElite)
	ev.UniqueBuyers = 7

	r := e.Score(snap, ev, SocialView{}, StateView{}, time.Now())

	assert.Equal(t, 15, r.Breakdown[PhaseSmartWallet])
	assert.Equal(t, -30, r.Breakdown[PhaseBundle])
	assert.Equal(t, 6, r.Breakdown[PhaseUniqueBuyers])
	assert.Equal(t, 3, r.Breakdown[PhaseVolume])
	assert.Equal(t, -6, r.MidTotal)
	assert.Equal(t, Hold, r.Decision)
	assert.NotContains(t, r.Breakdown, PhaseConvergence, "social phase never runs below the mid gate")
}

// S4: chat convergence without KOL backing never reaches the social phase.
func TestChatOnlyNeverEmits(t *testing.T) {
	e := New(testConfig())
	social := SocialView{Mentions10m: 8, Mentions30m: 8, Groups10m: 4, Groups30m: 4, LatestMention: time.Now()}

	r := e.Score(goodSnapshot(), evidence.View{MentionCount: 8, DistinctGroups: 4}, social, StateView{}, time.Now())

	assert.Equal(t, 0, r.Breakdown[PhaseSmartWallet])
	assert.Equal(t, 0, r.MidTotal)
	assert.Equal(t, Hold, r.Decision)
	assert.NotContains(t, r.Breakdown, PhaseConvergence)
}

// S5: a token already emitted holds even above threshold.
func TestAlreadyEmittedHolds(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.Volume1h = 40000
	snap.PriceChange1h = 35
	snap.Buys24h = 75
	snap.Sells24h = 25
	snap.Socials = token.Socials{Twitter: true, Telegram: true, Website: true}

	ev := buys(token.TierElite, token.TierTopKOL, token.TierElite)
	ev.UniqueBuyers = 40

	r := e.Score(snap, ev, SocialView{}, StateView{AlreadyEmitted: true}, time.Now())

	assert.GreaterOrEqual(t, r.Total, e.cfg.ThresholdPostGrad)
	assert.Equal(t, Hold, r.Decision)
	assert.Contains(t, r.Reasons, "already emitted")
}

// S6: graduation switches thresholds; raising the post-grad threshold flips
// the same score from EMIT to HOLD.
func TestGraduationThresholdSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 40
	e := New(cfg)

	snap := goodSnapshot()
	snap.Graduated = true
	snap.Volume1h = 25000 // +3
	snap.Socials = token.Socials{Twitter: true}
	// smart 40 + buyers 6 + volume 3 + social 4+(-0) + pressure 8 neutral = 61... build to ~55
	ev := buys(token.TierElite, token.TierTopKOL)
	ev.UniqueBuyers = 7

	r := e.Score(snap, ev, SocialView{}, StateView{}, time.Now())
	require.GreaterOrEqual(t, r.Total, 50)
	assert.Equal(t, Emit, r.Decision)

	cfg.ThresholdPostGrad = 75
	r = e.Score(snap, ev, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, Hold, r.Decision)
}

// Property 3: rug flags gate everything.
func TestRugFlagsAlwaysDrop(t *testing.T) {
	e := New(testConfig())
	for _, mutate := range []func(*token.Snapshot){
		func(s *token.Snapshot) { s.Risk.LPRemoved = true },
		func(s *token.Snapshot) { s.Risk.Honeypot = true },
	} {
		snap := goodSnapshot()
		snap.Volume1h = 100000
		mutate(snap)

		r := e.Score(snap, buys(token.TierElite, token.TierElite), SocialView{}, StateView{}, time.Now())
		assert.Equal(t, Drop, r.Decision)
		assert.NotContains(t, r.Breakdown, PhaseVolume)
		assert.NotContains(t, r.Breakdown, PhasePressure)
	}
}

func TestIgnoredTokenDrops(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.Mint = "So11111111111111111111111111111111111111112"

	r := e.Score(snap, evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, Drop, r.Decision)
	assert.Contains(t, r.Reasons, "ignored token")
}

func TestLowQualitySnapshotDrops(t *testing.T) {
	e := New(testConfig())
	snap := goodSnapshot()
	snap.Quality = 40

	r := e.Score(snap, evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, Drop, r.Decision)
}

func TestStaleSnapshotHoldsWithoutScoring(t *testing.T) {
	e := New(testConfig())
	snap := &token.Snapshot{Mint: "mintT", Quality: 0, Stale: true}

	r := e.Score(snap, buys(token.TierElite), SocialView{}, StateView{}, time.Now())
	assert.Equal(t, Hold, r.Decision)
	assert.Equal(t, 15, r.Breakdown[PhaseSmartWallet], "evidence still counts")
	assert.NotContains(t, r.Breakdown, PhaseSanity)
	assert.Contains(t, r.Reasons[0], "stale")
}

// Property 4: the final score stays inside the declared per-phase bounds for
// a sweep of adversarial inputs.
func TestScoreBounds(t *testing.T) {
	e := New(testConfig())
	const lo, hi = -145, 146 // sum of phase floors / caps

	snaps := []*token.Snapshot{
		goodSnapshot(),
		func() *token.Snapshot {
			s := goodSnapshot()
			s.Volume1h = 1e9
			s.PriceChange1h = 500
			s.Buys24h = 1000
			s.Socials = token.Socials{Website: true, Twitter: true, Telegram: true, Discord: true}
			s.HoldersKnown = true
			s.Top10Pct = 5
			return s
		}(),
		func() *token.Snapshot {
			s := goodSnapshot()
			s.Risk.Bundled = true
			s.Risk.BundleSize = 100
			s.Risk.RugScore = 9
			s.Risk.DevSoldPct = 90
			s.Boosted = true
			s.HoldersKnown = true
			s.Top10Pct = 95
			s.PriceChange1h = -80
			s.Sells24h = 1000
			return s
		}(),
	}
	views := []evidence.View{
		{},
		buys(token.TierElite, token.TierElite, token.TierElite, token.TierElite),
		func() evidence.View {
			v := buys(token.TierElite, token.TierTopKOL)
			v.UniqueBuyers = 10000
			return v
		}(),
	}
	social := SocialView{Mentions5m: 50, Mentions10m: 50, Mentions30m: 50, Groups10m: 10, Groups30m: 10, LatestMention: time.Now()}

	for _, s := range snaps {
		for _, v := range views {
			r := e.Score(s, v, social, StateView{PrevTop10Pct: 99}, time.Now())
			assert.GreaterOrEqual(t, r.Total, lo)
			assert.LessOrEqual(t, r.Total, hi)
			for phase, pts := range r.Breakdown {
				assert.LessOrEqual(t, pts, 40, "phase %s", phase)
				assert.GreaterOrEqual(t, pts, -40, "phase %s", phase)
			}
		}
	}
}

func TestConvergenceBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 0
	e := New(cfg)
	now := time.Now()

	cases := []struct {
		name   string
		social SocialView
		want   int
	}{
		{"quiet", SocialView{}, 0},
		{"one mention", SocialView{Mentions10m: 1, LatestMention: now}, 5},
		{"growing", SocialView{Mentions10m: 2, Mentions5m: 2, LatestMention: now}, 10},
		{"wide", SocialView{Mentions10m: 6, Groups10m: 3, LatestMention: now}, 15},
		{"multi-call 30m", SocialView{Mentions10m: 4, Mentions30m: 5, LatestMention: now}, 20},
		{"everything capped", SocialView{Mentions10m: 9, Mentions30m: 9, Groups10m: 4, Groups30m: 4, LatestMention: now}, 25},
		{"old call halved", SocialView{Mentions30m: 5, LatestMention: now.Add(-3 * time.Hour)}, 10},
	}
	// The fixture needs a social footprint so the late phases stay above the
	// gate and the convergence phase actually executes.
	snap := goodSnapshot()
	snap.Socials = token.Socials{Twitter: true, Telegram: true, Website: true}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := e.Score(snap, evidence.View{}, tc.social, StateView{}, now)
			assert.Equal(t, tc.want, r.Breakdown[PhaseConvergence])
		})
	}
}

func TestHolderPhaseDegradesWithoutData(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 0
	e := New(cfg)

	snap := goodSnapshot()
	snap.HoldersKnown = false

	r := e.Score(snap, evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, 0, r.Breakdown[PhaseHolders])
	assert.Contains(t, r.Reasons, "holder data missing, phase skipped")
}

func TestHolderImprovementBonus(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 0
	e := New(cfg)

	snap := goodSnapshot()
	snap.HoldersKnown = true
	snap.Top10Pct = 40

	r := e.Score(snap, evidence.View{}, SocialView{}, StateView{PrevTop10Pct: 55}, time.Now())
	assert.Equal(t, -5, r.Breakdown[PhaseHolders], "-10 concentration +5 improving")
}

func TestPressureNeutralOnThinTape(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 0
	e := New(cfg)

	snap := goodSnapshot()
	snap.Buys24h = 5
	snap.Sells24h = 2

	r := e.Score(snap, evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, 8, r.Breakdown[PhasePressure])
}

func TestNoSocialsPenalty(t *testing.T) {
	cfg := testConfig()
	cfg.MidGate = 0
	e := New(cfg)

	r := e.Score(goodSnapshot(), evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, -15, r.Breakdown[PhaseSocial])

	snap := goodSnapshot()
	snap.Boosted = true
	r = e.Score(snap, evidence.View{}, SocialView{}, StateView{}, time.Now())
	assert.Equal(t, -25, r.Breakdown[PhaseSocial], "boosted with no links floors at -25")
}
