package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/metrics"
	"github.com/conviction-engine/pkg/token"
)

// Fetcher is a stateless façade over the market, risk, and holder providers.
// Provider failures degrade snapshot quality; only total failure yields a
// synthetic stale snapshot. Concurrent calls for the same token coalesce.
type Fetcher struct {
	cfg    *config.Config
	client *http.Client
	group  singleflight.Group

	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter

	mu        sync.Mutex
	lastCurve map[token.Mint]curvePoint
}

type curvePoint struct {
	pct float64
	at  time.Time
}

const (
	provMarket  = "dexscreener"
	provHolders = "birdeye"
	provRisk    = "rugcheck"
)

func New(cfg *config.Config) *Fetcher {
	f := &Fetcher{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		breakers:  map[string]*gobreaker.CircuitBreaker{},
		limiters:  map[string]*rate.Limiter{},
		lastCurve: map[token.Mint]curvePoint{},
	}
	for _, name := range []string{provMarket, provHolders, provRisk} {
		f.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		})
		f.limiters[name] = rate.NewLimiter(rate.Limit(5), 10)
	}
	return f
}

// FetchSnapshot assembles one snapshot from all providers. Holder data is
// expensive and only pulled when includeHolders is set.
func (f *Fetcher) FetchSnapshot(ctx context.Context, mint token.Mint, includeHolders bool) (*token.Snapshot, error) {
	key := fmt.Sprintf("%s|%t", mint, includeHolders)
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return f.fetch(ctx, mint, includeHolders), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*token.Snapshot), nil
}

func (f *Fetcher) fetch(ctx context.Context, mint token.Mint, includeHolders bool) *token.Snapshot {
	snap := &token.Snapshot{Mint: mint, FetchedAt: time.Now()}

	marketPts, riskPts, holderPts := 60, 40, 0
	if includeHolders {
		marketPts, riskPts, holderPts = 50, 30, 20
	}

	failures := 0

	if err := f.fillMarket(ctx, snap); err != nil {
		failures++
		snap.Missing = append(snap.Missing, "market:"+errNote(err))
	} else {
		snap.Quality += marketPts
	}

	if err := f.fillRisk(ctx, snap); err != nil {
		failures++
		snap.Missing = append(snap.Missing, "risk:"+errNote(err))
	} else {
		snap.Quality += riskPts
	}

	if includeHolders {
		if err := f.fillHolders(ctx, snap); err != nil {
			failures++
			snap.Missing = append(snap.Missing, "holders:"+errNote(err))
		} else {
			snap.Quality += holderPts
			snap.HoldersKnown = true
		}
	}

	attempted := 2
	if includeHolders {
		attempted = 3
	}
	if failures == attempted {
		snap.Quality = 0
		snap.Stale = true
		log.Warn().Str("token", mint.Abbrev()).Msg("⚠️ all providers failed, stale snapshot")
	}

	f.deriveVelocity(snap)
	return snap
}

// deriveVelocity computes bonding-curve percent per minute from the prior
// observation of the same token.
func (f *Fetcher) deriveVelocity(snap *token.Snapshot) {
	if snap.Graduated || snap.BondingCurvePct <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.lastCurve[snap.Mint]; ok {
		mins := snap.FetchedAt.Sub(prev.at).Minutes()
		if mins > 0 && snap.BondingCurvePct > prev.pct {
			snap.CurveVelocity = (snap.BondingCurvePct - prev.pct) / mins
		}
	}
	f.lastCurve[snap.Mint] = curvePoint{pct: snap.BondingCurvePct, at: snap.FetchedAt}
}

// call runs one provider request through its limiter and breaker, retrying
// once on transient network errors.
func (f *Fetcher) call(ctx context.Context, provider, url string, headers map[string]string) ([]byte, error) {
	if err := f.limiters[provider].Wait(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	body, err := f.breakers[provider].Execute(func() (interface{}, error) {
		b, err := f.getJSON(ctx, url, headers)
		if err != nil && isTransient(err) {
			b, err = f.getJSON(ctx, url, headers)
		}
		if err != nil {
			return nil, &token.TransientFetchError{Provider: provider, Err: err}
		}
		return b, nil
	})
	metrics.ObserveFetch(provider, time.Since(started))
	if err != nil {
		metrics.FetchError(provider)
		return nil, err
	}
	return body.([]byte), nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB max
}

func isTransient(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func errNote(err error) string {
	if isTransient(err) {
		return "timeout"
	}
	return "unavailable"
}
