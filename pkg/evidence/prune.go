package evidence

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Prune removes entries older than each store's TTL and drops token entries
// that have gone completely cold. Shards are swept one at a time so inserts
// on other shards never wait.
func (c *Cache) Prune() {
	now := time.Now()
	today := now.UTC().Format("2006-01-02")
	var kolDropped, mentionsDropped, tokensDropped int

	for _, sh := range c.shards {
		sh.mu.Lock()
		for m, te := range sh.tokens {
			kept := te.kol[:0]
			for _, r := range te.kol {
				if now.Sub(r.at) <= c.cfg.KOLActivityTTL {
					kept = append(kept, r)
				} else {
					kolDropped++
				}
			}
			te.kol = kept

			keptM := te.mentions[:0]
			for _, r := range te.mentions {
				if now.Sub(r.at) <= c.cfg.MentionTTL {
					keptM = append(keptM, r)
				} else {
					mentionsDropped++
				}
			}
			te.mentions = keptM

			if te.snapshot != nil && now.Sub(te.snapshot.FetchedAt) > c.cfg.SnapshotTTL {
				te.snapshot = nil
			}

			for k := range te.edgesSeen {
				if !strings.HasSuffix(k, today) {
					delete(te.edgesSeen, k)
				}
			}

			// Buyer sets carry no timestamps, so any buyer keeps the entry live.
			if len(te.kol) == 0 && len(te.mentions) == 0 && len(te.buyers) == 0 && te.snapshot == nil {
				delete(sh.tokens, m)
				tokensDropped++
			}
		}
		sh.mu.Unlock()
	}

	cutoff := now.Add(-24 * time.Hour)
	for _, gs := range c.groups {
		gs.mu.Lock()
		for g, byMint := range gs.tokens {
			for m, at := range byMint {
				if at.Before(cutoff) {
					delete(byMint, m)
				}
			}
			if len(byMint) == 0 {
				delete(gs.tokens, g)
			}
		}
		gs.mu.Unlock()
	}

	if kolDropped+mentionsDropped+tokensDropped > 0 {
		log.Debug().
			Int("kol", kolDropped).
			Int("mentions", mentionsDropped).
			Int("tokens", tokensDropped).
			Msg("🧹 evidence pruned")
	}
}
