package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/conviction-engine/pkg/token"
)

// fillMarket pulls price, liquidity, volumes, buy/sell counts, and social
// links from DexScreener. The highest-liquidity pair wins.
func (f *Fetcher) fillMarket(ctx context.Context, snap *token.Snapshot) error {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", f.cfg.DexScreenerURL, snap.Mint)
	body, err := f.call(ctx, provMarket, url, nil)
	if err != nil {
		return err
	}

	var result struct {
		Pairs []struct {
			BaseToken struct {
				Symbol string `json:"symbol"`
				Name   string `json:"name"`
			} `json:"baseToken"`
			PriceUSD  string `json:"priceUsd"`
			Liquidity struct {
				USD   float64 `json:"usd"`
				Base  float64 `json:"base"`
				Quote float64 `json:"quote"`
			} `json:"liquidity"`
			Volume struct {
				H1  float64 `json:"h1"`
				H6  float64 `json:"h6"`
				H24 float64 `json:"h24"`
			} `json:"volume"`
			Txns struct {
				H1  struct{ Buys, Sells int } `json:"h1"`
				H6  struct{ Buys, Sells int } `json:"h6"`
				H24 struct{ Buys, Sells int } `json:"h24"`
			} `json:"txns"`
			PriceChange struct {
				H1  float64 `json:"h1"`
				H6  float64 `json:"h6"`
				H24 float64 `json:"h24"`
			} `json:"priceChange"`
			MarketCap float64 `json:"marketCap"`
			FDV       float64 `json:"fdv"`
			Info      struct {
				Websites []struct {
					URL string `json:"url"`
				} `json:"websites"`
				Socials []struct {
					Type string `json:"type"`
				} `json:"socials"`
			} `json:"info"`
			Boosts struct {
				Active int `json:"active"`
			} `json:"boosts"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	if len(result.Pairs) == 0 {
		return fmt.Errorf("no pairs for %s", snap.Mint.Abbrev())
	}

	best := result.Pairs[0]
	for _, p := range result.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	snap.Symbol = best.BaseToken.Symbol
	snap.Name = best.BaseToken.Name
	snap.PriceUSD, _ = strconv.ParseFloat(best.PriceUSD, 64)
	snap.LiquidityUSD = best.Liquidity.USD
	snap.BaseReserve = best.Liquidity.Base
	snap.QuoteReserve = best.Liquidity.Quote
	snap.Volume1h = best.Volume.H1
	snap.Volume6h = best.Volume.H6
	snap.Volume24h = best.Volume.H24
	snap.Buys1h, snap.Sells1h = best.Txns.H1.Buys, best.Txns.H1.Sells
	snap.Buys6h, snap.Sells6h = best.Txns.H6.Buys, best.Txns.H6.Sells
	snap.Buys24h, snap.Sells24h = best.Txns.H24.Buys, best.Txns.H24.Sells
	snap.PriceChange1h = best.PriceChange.H1
	snap.PriceChange6h = best.PriceChange.H6
	snap.PriceChange24h = best.PriceChange.H24
	snap.MarketCapUSD = best.MarketCap
	if snap.MarketCapUSD == 0 {
		snap.MarketCapUSD = best.FDV
	}
	snap.Boosted = best.Boosts.Active > 0

	snap.Socials.Website = len(best.Info.Websites) > 0
	for _, s := range best.Info.Socials {
		switch strings.ToLower(s.Type) {
		case "twitter":
			snap.Socials.Twitter = true
		case "telegram":
			snap.Socials.Telegram = true
		case "discord":
			snap.Socials.Discord = true
		}
	}
	return nil
}
