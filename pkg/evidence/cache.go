package evidence

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/db"
	"github.com/conviction-engine/pkg/metrics"
	"github.com/conviction-engine/pkg/token"
)

const shardCount = 16

// Persister is the optional durable backing for mentions and correlation
// edges. Failures are logged and never block the in-memory path.
type Persister interface {
	InsertMention(m token.Mint, group string, ts time.Time, text string) error
	InsertCorrelation(e db.CorrelationEdge) (bool, error)
}

type kolRecord struct {
	wallet   string
	tier     token.Tier
	kind     token.TxKind
	curvePct float64
	notional float64
	at       time.Time
}

type mentionRecord struct {
	group string
	text  string
	at    time.Time
}

type tokenEvidence struct {
	kol      []kolRecord
	mentions []mentionRecord
	buyers   map[string]struct{}
	snapshot *token.Snapshot
	// edges seen today for this token, "a|b|date"
	edgesSeen map[string]struct{}
}

type shard struct {
	mu     sync.RWMutex
	tokens map[token.Mint]*tokenEvidence
}

type groupShard struct {
	mu sync.RWMutex
	// group -> mint -> last mention
	tokens map[string]map[token.Mint]time.Time
}

// Cache holds every evidence store: KOL activity, chat mentions with the
// per-group index, unique buyers, and snapshots. All per-token data lives
// under one shard lock keyed by fnv(mint); the group index shards by group.
type Cache struct {
	cfg    *config.Config
	shards [shardCount]*shard
	groups [shardCount]*groupShard
	store  Persister

	mu        sync.RWMutex
	onMention func(token.ChatMentionEvent)
}

func NewCache(cfg *config.Config, store Persister) *Cache {
	c := &Cache{cfg: cfg, store: store}
	for i := range c.shards {
		c.shards[i] = &shard{tokens: make(map[token.Mint]*tokenEvidence)}
		c.groups[i] = &groupShard{tokens: make(map[string]map[token.Mint]time.Time)}
	}
	return c
}

// OnMention registers the downstream consumer for deduplicated mentions.
func (c *Cache) OnMention(fn func(token.ChatMentionEvent)) {
	c.mu.Lock()
	c.onMention = fn
	c.mu.Unlock()
}

func (c *Cache) shardFor(m token.Mint) *shard {
	h := fnv.New32a()
	h.Write([]byte(m))
	return c.shards[h.Sum32()%shardCount]
}

func (c *Cache) groupShardFor(g string) *groupShard {
	h := fnv.New32a()
	h.Write([]byte(g))
	return c.groups[h.Sum32()%shardCount]
}

func (sh *shard) get(m token.Mint) *tokenEvidence {
	ev, ok := sh.tokens[m]
	if !ok {
		ev = &tokenEvidence{
			buyers:    make(map[string]struct{}),
			edgesSeen: make(map[string]struct{}),
		}
		sh.tokens[m] = ev
	}
	return ev
}

// RecordKOL stores one KOL activity record. Duplicate deliveries for the same
// wallet within the dedup window are collapsed; reports whether a new record
// landed. Ignored tokens never create entries.
func (c *Cache) RecordKOL(ev token.KOLBuyEvent) bool {
	if c.cfg.IsIgnored(ev.Token) {
		return false
	}

	sh := c.shardFor(ev.Token)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	te := sh.get(ev.Token)
	for _, r := range te.kol {
		if r.wallet == ev.Wallet && absDur(r.at.Sub(ev.At)) <= c.cfg.KOLDedupWindow {
			return false
		}
	}
	if len(te.kol) >= c.cfg.KOLActivityCap {
		return false
	}
	te.kol = append(te.kol, kolRecord{
		wallet:   ev.Wallet,
		tier:     ev.Tier,
		kind:     ev.Kind,
		curvePct: ev.CurvePct,
		notional: ev.Notional,
		at:       ev.At,
	})
	return true
}

// RecordMention stores one chat mention, maintains the per-group index,
// creates correlation edges against other groups inside the correlation
// window, and fans the event out downstream. Reports whether the mention
// survived dedup.
func (c *Cache) RecordMention(ev token.ChatMentionEvent) bool {
	if c.cfg.IsIgnored(ev.Token) {
		return false
	}

	sh := c.shardFor(ev.Token)
	sh.mu.Lock()
	te := sh.get(ev.Token)
	for _, r := range te.mentions {
		if r.group == ev.Group && absDur(r.at.Sub(ev.At)) <= c.cfg.MentionDedupWindow {
			sh.mu.Unlock()
			return false
		}
	}
	te.mentions = append(te.mentions, mentionRecord{group: ev.Group, text: ev.Text, at: ev.At})
	edges := c.collectEdges(te, ev)
	sh.mu.Unlock()

	gs := c.groupShardFor(ev.Group)
	gs.mu.Lock()
	byMint, ok := gs.tokens[ev.Group]
	if !ok {
		byMint = make(map[token.Mint]time.Time)
		gs.tokens[ev.Group] = byMint
	}
	byMint[ev.Token] = ev.At
	gs.mu.Unlock()

	metrics.MentionRecorded()

	if c.store != nil {
		if err := c.store.InsertMention(ev.Token, ev.Group, ev.At, ev.Text); err != nil {
			log.Warn().Err(err).Str("token", ev.Token.Abbrev()).Msg("⚠️ mention persist failed")
		}
		for _, e := range edges {
			if _, err := c.store.InsertCorrelation(e); err != nil {
				log.Warn().Err(err).Str("token", ev.Token.Abbrev()).Msg("⚠️ correlation persist failed")
			}
		}
	}
	for range edges {
		metrics.CorrelationEdge()
	}

	c.mu.RLock()
	fn := c.onMention
	c.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
	return true
}

// collectEdges finds other groups that mentioned the token within the
// correlation window and produces day-deduplicated edges. Caller holds the
// shard lock.
func (c *Cache) collectEdges(te *tokenEvidence, ev token.ChatMentionEvent) []db.CorrelationEdge {
	date := ev.At.UTC().Format("2006-01-02")
	latest := make(map[string]time.Time)
	for _, r := range te.mentions {
		if r.group == ev.Group {
			continue
		}
		if absDur(ev.At.Sub(r.at)) > c.cfg.CorrelationWindow {
			continue
		}
		if cur, ok := latest[r.group]; !ok || r.at.After(cur) {
			latest[r.group] = r.at
		}
	}

	var edges []db.CorrelationEdge
	for other, at := range latest {
		a, b := ev.Group, other
		ta, tb := ev.At, at
		if a > b {
			a, b = b, a
			ta, tb = tb, ta
		}
		key := a + "|" + b + "|" + date
		if _, seen := te.edgesSeen[key]; seen {
			continue
		}
		te.edgesSeen[key] = struct{}{}
		edges = append(edges, db.CorrelationEdge{
			GroupA:          a,
			GroupB:          b,
			Token:           ev.Token,
			TimeDiffSeconds: int(tb.Sub(ta).Seconds()),
			Date:            date,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].GroupA != edges[j].GroupA {
			return edges[i].GroupA < edges[j].GroupA
		}
		return edges[i].GroupB < edges[j].GroupB
	})
	return edges
}

// RecordBuyer inserts one on-chain buyer address into the per-token set,
// bounded by the cap. Returns the new total and whether the address was new.
func (c *Cache) RecordBuyer(m token.Mint, addr string) (int, bool) {
	if c.cfg.IsIgnored(m) || addr == "" {
		return 0, false
	}

	sh := c.shardFor(m)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	te := sh.get(m)
	if _, ok := te.buyers[addr]; ok {
		return len(te.buyers), false
	}
	if len(te.buyers) >= c.cfg.BuyerCap {
		return len(te.buyers), false
	}
	te.buyers[addr] = struct{}{}
	return len(te.buyers), true
}

// TokensToday lists tokens a group has mentioned since the cutoff.
func (c *Cache) TokensToday(group string, cutoff time.Time) []token.Mint {
	gs := c.groupShardFor(group)
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	var out []token.Mint
	for m, at := range gs.tokens[group] {
		if at.After(cutoff) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
