package token

import "time"

// Socials are the link flags surfaced by the market-data provider.
type Socials struct {
	Website  bool `json:"website"`
	Twitter  bool `json:"twitter"`
	Telegram bool `json:"telegram"`
	Discord  bool `json:"discord"`
}

// Any reports whether at least one link is present.
func (s Socials) Any() bool {
	return s.Website || s.Twitter || s.Telegram || s.Discord
}

// RiskFlags carry the rug heuristics from the risk provider.
type RiskFlags struct {
	LPRemoved  bool    `json:"lp_removed"`
	Honeypot   bool    `json:"honeypot"`
	DevSoldPct float64 `json:"dev_sold_pct"` // 0-100
	RugScore   float64 `json:"rug_score"`    // 0-10, provider scale
	Bundled    bool    `json:"bundled"`
	BundleSize int     `json:"bundle_size"` // related buys landing in one block
}

// Snapshot is one point-in-time market view of a token. Quality reflects how
// many field groups were actually populated; a stale snapshot means no
// provider answered and the scorer must not act on it.
type Snapshot struct {
	Mint   Mint   `json:"mint"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`

	PriceUSD     float64 `json:"price_usd"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	BaseReserve  float64 `json:"base_reserve"`
	QuoteReserve float64 `json:"quote_reserve"`

	Volume1h  float64 `json:"volume_1h"`
	Volume6h  float64 `json:"volume_6h"`
	Volume24h float64 `json:"volume_24h"`

	Buys1h   int `json:"buys_1h"`
	Sells1h  int `json:"sells_1h"`
	Buys6h   int `json:"buys_6h"`
	Sells6h  int `json:"sells_6h"`
	Buys24h  int `json:"buys_24h"`
	Sells24h int `json:"sells_24h"`

	PriceChange1h  float64 `json:"price_change_1h"` // percent
	PriceChange6h  float64 `json:"price_change_6h"`
	PriceChange24h float64 `json:"price_change_24h"`

	UniqueBuyerEst int `json:"unique_buyer_est"`

	BondingCurvePct float64 `json:"bonding_curve_pct"` // 0-100 while on curve
	CurveVelocity   float64 `json:"curve_velocity"`    // curve percent per minute
	Graduated       bool    `json:"graduated"`

	HolderCount  int     `json:"holder_count"`
	Top1Pct      float64 `json:"top1_pct"`
	Top5Pct      float64 `json:"top5_pct"`
	Top10Pct     float64 `json:"top10_pct"`
	HoldersKnown bool    `json:"holders_known"`

	Socials Socials   `json:"socials"`
	Boosted bool      `json:"boosted"` // paid promotion detected
	Risk    RiskFlags `json:"risk"`

	Quality   int       `json:"quality"` // 0-100
	Stale     bool      `json:"stale"`
	Missing   []string  `json:"missing,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age is the time since the snapshot was fetched.
func (s *Snapshot) Age() time.Duration { return time.Since(s.FetchedAt) }

// FreshWithin reports whether the snapshot is younger than the budget.
func (s *Snapshot) FreshWithin(budget time.Duration) bool {
	return !s.Stale && time.Since(s.FetchedAt) <= budget
}
