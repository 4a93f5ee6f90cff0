package kol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/token"
)

// Store is the optional persistence for refreshed wallet stats.
type Store interface {
	UpsertKOLWallet(w token.KOLWallet) error
	GetKOLWallets() ([]token.KOLWallet, error)
}

// Registry holds the curated wallet set. Reads are lock-free in the common
// path; tier and stats refresh asynchronously and scoring reads whatever is
// current.
type Registry struct {
	cfg     *config.Config
	store   Store
	client  *http.Client
	limiter *rate.Limiter // shared token bucket for outbound stats calls

	mu      sync.RWMutex
	wallets map[string]token.KOLWallet
}

func New(cfg *config.Config, store Store) *Registry {
	rps := cfg.KOLRefreshRPS
	if rps <= 0 {
		rps = 0.5
	}
	r := &Registry{
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		wallets: make(map[string]token.KOLWallet),
	}

	// Persisted rows first, then config entries override tier/name.
	if store != nil {
		if rows, err := store.GetKOLWallets(); err == nil {
			for _, w := range rows {
				r.wallets[w.Address] = w
			}
		}
	}
	for _, w := range cfg.KOLWallets {
		if cur, ok := r.wallets[w.Address]; ok {
			cur.Name, cur.Tier = w.Name, w.Tier
			r.wallets[w.Address] = cur
			continue
		}
		r.wallets[w.Address] = w
	}
	return r
}

// Lookup returns the current record for a wallet address.
func (r *Registry) Lookup(addr string) (token.KOLWallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[addr]
	return w, ok
}

// Tier returns the current tier, UNKNOWN for untracked wallets.
func (r *Registry) Tier(addr string) token.Tier {
	if w, ok := r.Lookup(addr); ok {
		return w.Tier
	}
	return token.TierUnknown
}

// All returns every tracked wallet, ordered by address.
func (r *Registry) All() []token.KOLWallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]token.KOLWallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

// Refresh pulls fresh win-rate and PnL stats for every wallet, paced by the
// shared token bucket. Skipped entirely when no stats provider is configured.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.cfg.KOLStatsURL == "" {
		return nil
	}

	refreshed := 0
	for _, w := range r.All() {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		stats, err := r.fetchStats(ctx, w.Address)
		if err != nil {
			log.Debug().Err(err).Str("wallet", token.Abbrev(w.Address)).Msg("stats refresh failed")
			continue
		}

		w.WinRate = stats.WinRate
		w.PnLEstimate = stats.PnLUSD
		if stats.Tier != "" {
			w.Tier = token.ParseTier(stats.Tier)
		}
		w.RefreshedAt = time.Now()

		r.mu.Lock()
		r.wallets[w.Address] = w
		r.mu.Unlock()

		if r.store != nil {
			if err := r.store.UpsertKOLWallet(w); err != nil {
				log.Warn().Err(err).Str("wallet", token.Abbrev(w.Address)).Msg("⚠️ wallet persist failed")
			}
		}
		refreshed++
	}

	log.Info().Int("wallets", refreshed).Msg("📈 KOL stats refreshed")
	return nil
}

type walletStats struct {
	WinRate float64 `json:"win_rate"`
	PnLUSD  float64 `json:"pnl_usd"`
	Tier    string  `json:"tier"`
}

func (r *Registry) fetchStats(ctx context.Context, addr string) (*walletStats, error) {
	url := fmt.Sprintf("%s/wallet/%s", r.cfg.KOLStatsURL, addr)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d from stats provider", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var stats walletStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
