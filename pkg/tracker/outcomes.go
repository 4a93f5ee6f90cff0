package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conviction-engine/pkg/token"
)

// outcomeWindow is how long a signal stays open for outcome tracking.
const outcomeWindow = 24 * time.Hour

// UpdateOutcomes revisits signals emitted inside the outcome window and
// records what happened to them: peak multiple over entry, rug evidence, and
// the resulting category. Meant to run on a cron cadence.
func (t *Tracker) UpdateOutcomes(ctx context.Context) {
	if t.store == nil {
		return
	}

	sigs, err := t.store.SignalsSince(time.Now().Add(-outcomeWindow))
	if err != nil {
		log.Error().Err(err).Msg("❌ outcome sweep: load signals")
		return
	}

	for _, sig := range sigs {
		if sig.EntryPriceUSD <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, err := t.cache.GetOrFetch(ctx, sig.Token, false, t.fetch.FetchSnapshot)
		if err != nil || snap.Stale {
			continue
		}

		peak := sig.PeakMultiple
		if mult := snap.PriceUSD / sig.EntryPriceUSD; mult > peak {
			peak = mult
		}

		rugged := sig.RugFlag ||
			snap.Risk.LPRemoved || snap.Risk.Honeypot ||
			snap.LiquidityUSD < t.cfg.LiquidityFloorUSD/10

		outcome := token.CategorizeOutcome(peak, rugged)
		if outcome == sig.Outcome && peak == sig.PeakMultiple {
			continue
		}
		if err := t.store.UpdateOutcome(sig.ID, outcome, peak, rugged); err != nil {
			log.Error().Err(err).Str("signal", sig.ID).Msg("❌ outcome sweep: update")
			continue
		}
		log.Info().
			Str("token", sig.Token.Abbrev()).
			Str("outcome", outcome).
			Float64("peak", peak).
			Msg("📊 outcome updated")
	}
}
