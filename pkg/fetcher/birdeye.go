package fetcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conviction-engine/pkg/token"
)

// fillHolders pulls holder distribution from Birdeye. Expensive, so only
// invoked when the caller asked for holder data.
func (f *Fetcher) fillHolders(ctx context.Context, snap *token.Snapshot) error {
	headers := map[string]string{"x-chain": "solana"}
	if f.cfg.BirdeyeAPIKey != "" {
		headers["X-API-KEY"] = f.cfg.BirdeyeAPIKey
	}

	url := fmt.Sprintf("%s/defi/v3/token/holder?address=%s&limit=10", f.cfg.BirdeyeURL, snap.Mint)
	body, err := f.call(ctx, provHolders, url, headers)
	if err != nil {
		return err
	}

	var result struct {
		Data struct {
			Total int `json:"total"`
			Items []struct {
				Owner      string  `json:"owner"`
				Percentage float64 `json:"percentage"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	if len(result.Data.Items) == 0 {
		return fmt.Errorf("no holder data for %s", snap.Mint.Abbrev())
	}

	snap.HolderCount = result.Data.Total
	for i, h := range result.Data.Items {
		if i == 0 {
			snap.Top1Pct = h.Percentage
		}
		if i < 5 {
			snap.Top5Pct += h.Percentage
		}
		if i < 10 {
			snap.Top10Pct += h.Percentage
		}
	}

	// Unique-buyer estimate rides along from the trade tape.
	f.fillBuyerEstimate(ctx, snap, headers)
	return nil
}

// fillBuyerEstimate counts distinct buy-side owners in the recent tape.
// Best effort: a failure here leaves the estimate at zero.
func (f *Fetcher) fillBuyerEstimate(ctx context.Context, snap *token.Snapshot, headers map[string]string) {
	url := fmt.Sprintf("%s/defi/txs/token?address=%s&tx_type=swap&sort_type=desc&limit=50", f.cfg.BirdeyeURL, snap.Mint)
	body, err := f.call(ctx, provHolders, url, headers)
	if err != nil {
		return
	}

	var result struct {
		Data struct {
			Items []struct {
				Owner string `json:"owner"`
				Side  string `json:"side"`
			} `json:"items"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &result) != nil {
		return
	}

	seen := map[string]bool{}
	for _, item := range result.Data.Items {
		if item.Side == "buy" && item.Owner != "" {
			seen[item.Owner] = true
		}
	}
	snap.UniqueBuyerEst = len(seen)
}
