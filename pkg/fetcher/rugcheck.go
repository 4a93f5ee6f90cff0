package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conviction-engine/pkg/token"
)

// fillRisk pulls rug heuristics, bundle detection, and the bonding-curve
// position from the risk checker.
func (f *Fetcher) fillRisk(ctx context.Context, snap *token.Snapshot) error {
	url := fmt.Sprintf("%s/v1/tokens/%s/report", f.cfg.RugCheckURL, snap.Mint)
	body, err := f.call(ctx, provRisk, url, nil)
	if err != nil {
		return err
	}

	var result struct {
		Score float64 `json:"score_normalised"` // 0-10
		Risks []struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		} `json:"risks"`
		Bundle struct {
			Detected bool `json:"detected"`
			Size     int  `json:"size"`
		} `json:"bundle"`
		LaunchPad struct {
			Graduated bool    `json:"graduated"`
			CurvePct  float64 `json:"curve_pct"`
		} `json:"launchpad"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}

	snap.Risk.RugScore = result.Score
	snap.Risk.Bundled = result.Bundle.Detected
	snap.Risk.BundleSize = result.Bundle.Size
	snap.Graduated = result.LaunchPad.Graduated
	snap.BondingCurvePct = result.LaunchPad.CurvePct

	for _, risk := range result.Risks {
		switch {
		case strings.Contains(strings.ToLower(risk.Name), "lp removed"),
			strings.Contains(strings.ToLower(risk.Name), "liquidity removed"):
			snap.Risk.LPRemoved = true
		case strings.Contains(strings.ToLower(risk.Name), "honeypot"):
			snap.Risk.Honeypot = true
		case strings.Contains(strings.ToLower(risk.Name), "dev sold"),
			strings.Contains(strings.ToLower(risk.Name), "creator sold"):
			snap.Risk.DevSoldPct = risk.Value
		}
	}
	return nil
}
