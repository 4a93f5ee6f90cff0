package evidence

import (
	"sort"
	"time"

	"github.com/conviction-engine/pkg/token"
)

// WalletBuy is one distinct wallet's earliest BUY inside the view window.
type WalletBuy struct {
	Wallet string
	Tier   token.Tier
	At     time.Time
}

// View is the aggregated read of every store for one token over a trailing
// window. Counts are monotone between prune sweeps.
type View struct {
	KOLCount        int // raw activity records
	DistinctKOLs    int // wallets with at least one BUY
	KOLBuys         []WalletBuy
	MentionCount    int
	DistinctGroups  int
	UniqueBuyers    int
	EarliestKOL     time.Time
	EarliestMention time.Time
	LatestMention   time.Time
}

// GetEvidence computes the view over the trailing window ending now.
func (c *Cache) GetEvidence(m token.Mint, within time.Duration) View {
	return c.GetEvidenceAt(m, within, time.Now())
}

// GetEvidenceAt computes the view over records newer than at-within. Split
// out so scoring tests can pin the clock. Records stamped ahead of at still
// count: upstream timestamps skew and a rescore must never un-see evidence.
func (c *Cache) GetEvidenceAt(m token.Mint, within time.Duration, at time.Time) View {
	cutoff := at.Add(-within)

	sh := c.shardFor(m)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	v := View{}
	te, ok := sh.tokens[m]
	if !ok {
		return v
	}

	firstBuy := make(map[string]WalletBuy)
	for _, r := range te.kol {
		if r.at.Before(cutoff) {
			continue
		}
		v.KOLCount++
		if v.EarliestKOL.IsZero() || r.at.Before(v.EarliestKOL) {
			v.EarliestKOL = r.at
		}
		if r.kind != token.TxBuy {
			continue
		}
		if cur, seen := firstBuy[r.wallet]; !seen || r.at.Before(cur.At) {
			firstBuy[r.wallet] = WalletBuy{Wallet: r.wallet, Tier: r.tier, At: r.at}
		}
	}
	for _, wb := range firstBuy {
		v.KOLBuys = append(v.KOLBuys, wb)
	}
	sort.Slice(v.KOLBuys, func(i, j int) bool { return v.KOLBuys[i].At.Before(v.KOLBuys[j].At) })
	v.DistinctKOLs = len(v.KOLBuys)

	groups := make(map[string]struct{})
	for _, r := range te.mentions {
		if r.at.Before(cutoff) {
			continue
		}
		v.MentionCount++
		groups[r.group] = struct{}{}
		if v.EarliestMention.IsZero() || r.at.Before(v.EarliestMention) {
			v.EarliestMention = r.at
		}
		if r.at.After(v.LatestMention) {
			v.LatestMention = r.at
		}
	}
	v.DistinctGroups = len(groups)
	v.UniqueBuyers = len(te.buyers)

	return v
}

// Stats are the per-store sizes reported on /status.
type Stats struct {
	Tokens        int `json:"tokens"`
	KOLRecords    int `json:"kol_records"`
	Mentions      int `json:"mentions"`
	UniqueBuyers  int `json:"unique_buyers"`
	Snapshots     int `json:"snapshots"`
	GroupsIndexed int `json:"groups_indexed"`
}

func (c *Cache) Stats() Stats {
	var st Stats
	for _, sh := range c.shards {
		sh.mu.RLock()
		st.Tokens += len(sh.tokens)
		for _, te := range sh.tokens {
			st.KOLRecords += len(te.kol)
			st.Mentions += len(te.mentions)
			st.UniqueBuyers += len(te.buyers)
			if te.snapshot != nil {
				st.Snapshots++
			}
		}
		sh.mu.RUnlock()
	}
	for _, gs := range c.groups {
		gs.mu.RLock()
		st.GroupsIndexed += len(gs.tokens)
		gs.mu.RUnlock()
	}
	return st
}
