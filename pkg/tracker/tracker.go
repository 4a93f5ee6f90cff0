package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/conviction"
	"github.com/conviction-engine/pkg/db"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/kol"
	"github.com/conviction-engine/pkg/metrics"
	"github.com/conviction-engine/pkg/token"
)

// Fetcher pulls fresh snapshots from the providers.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, m token.Mint, includeHolders bool) (*token.Snapshot, error)
}

// Publisher delivers emitted signals downstream.
type Publisher interface {
	Publish(ctx context.Context, sig *token.Signal) error
}

// SignalStore is the optional persistence for emitted signals.
type SignalStore interface {
	InsertSignal(sig *token.Signal) error
	MarkEmitFailed(id string) error
	SignalsSince(cutoff time.Time) ([]token.Signal, error)
	UpdateOutcome(id, outcome string, peakMultiple float64, rugFlag bool) error
	LastEmission(m token.Mint) (time.Time, error)
	CorrelationsForToken(m token.Mint) ([]db.CorrelationEdge, error)
}

const evalRingSize = 50

// Tracker owns the per-token lifecycle: it turns ingress events into evidence
// updates, drives scoring, and emits signals. All mutations for one token are
// serialized through the dispatcher.
type Tracker struct {
	cfg    *config.Config
	cache  *evidence.Cache
	engine *conviction.Engine
	fetch  Fetcher
	reg    *kol.Registry
	pub    Publisher
	store  SignalStore // nil disables persistence

	disp *Dispatcher

	mu           sync.RWMutex
	states       map[token.Mint]*TokenState
	lastEmit     map[token.Mint]time.Time
	evals        []int
	emittedDay   string
	emittedToday int

	publishWG sync.WaitGroup
}

func New(cfg *config.Config, cache *evidence.Cache, engine *conviction.Engine, fetch Fetcher, reg *kol.Registry, pub Publisher, store SignalStore) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		cache:    cache,
		engine:   engine,
		fetch:    fetch,
		reg:      reg,
		pub:      pub,
		store:    store,
		states:   make(map[token.Mint]*TokenState),
		lastEmit: make(map[token.Mint]time.Time),
	}
	t.disp = NewDispatcher(cfg.Workers, cfg.QueueHighWatermark, cfg.GroupMentionQuota, t.handle)

	// Deduplicated mentions flow from the cache; the correlation edges are
	// already created by the time the rescore job runs.
	cache.OnMention(func(ev token.ChatMentionEvent) { t.disp.Enqueue(ev) })
	return t
}

// Dispatch feeds one event into the per-token queue.
func (t *Tracker) Dispatch(ev token.Event) bool {
	accepted := t.disp.Enqueue(ev)
	if accepted {
		metrics.EventIngested(className(ev.EventClass()))
	}
	return accepted
}

// Tracked reports whether a token currently has live state.
func (t *Tracker) Tracked(m token.Mint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.states[m]
	return ok
}

// handle is the dispatcher callback; per-token serialization is guaranteed.
func (t *Tracker) handle(ev token.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch e := ev.(type) {
	case token.KOLBuyEvent:
		t.onKOLBuy(ctx, e)
	case token.TradeEvent:
		t.onTrade(ctx, e)
	case token.ChatMentionEvent:
		t.onMention(ctx, e)
	case token.GraduationEvent:
		t.onGraduation(ctx, e)
	case token.PollTick:
		t.onPoll(ctx, e)
	}
}

func (t *Tracker) onKOLBuy(ctx context.Context, e token.KOLBuyEvent) {
	if t.cfg.IsIgnored(e.Token) {
		return
	}

	recorded := t.cache.RecordKOL(e)
	buyer := e.Buyer
	if buyer == "" {
		buyer = e.Wallet
	}
	t.cache.RecordBuyer(e.Token, buyer)

	st := t.ensureState(e.Token, token.TriggerKOLBuy, e.At)
	if st == nil {
		return
	}

	st.mu.Lock()
	st.LastActivity = e.At
	_, seen := st.KOLsSeen[e.Wallet]
	material := recorded && !seen && e.Kind == token.TxBuy
	if material {
		st.KOLsSeen[e.Wallet] = struct{}{}
		st.LowStreak = 0
	}
	st.mu.Unlock()

	if material {
		log.Info().
			Str("token", e.Token.Abbrev()).
			Str("wallet", token.Abbrev(e.Wallet)).
			Str("tier", string(e.Tier)).
			Msg("💰 KOL buy")
		t.rescore(ctx, st)
	}
}

func (t *Tracker) onTrade(ctx context.Context, e token.TradeEvent) {
	if e.Kind != token.TxBuy {
		return
	}
	total, added := t.cache.RecordBuyer(e.Token, e.Buyer)

	t.mu.RLock()
	st := t.states[e.Token]
	t.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.LastActivity = e.At
	st.mu.Unlock()

	// Only bucket boundaries change the unique-buyer phase.
	if added && (total == 1 || total == 5 || total == 15 || total == 30) {
		t.rescore(ctx, st)
	}
}

func (t *Tracker) onMention(ctx context.Context, e token.ChatMentionEvent) {
	st := t.ensureState(e.Token, token.TriggerChatCall, e.At)
	if st == nil {
		return
	}

	st.mu.Lock()
	st.LastActivity = e.At
	st.MentionCount++
	_, seen := st.GroupsSeen[e.Group]
	st.GroupsSeen[e.Group] = struct{}{}
	count := st.MentionCount
	material := !seen || count == 1 || count == 3 || count == 6
	if material {
		st.LowStreak = 0
	}
	st.mu.Unlock()

	if material {
		log.Info().
			Str("token", e.Token.Abbrev()).
			Str("group", e.Group).
			Int("mentions", count).
			Msg("📨 chat call")
		t.rescore(ctx, st)
	}
}

func (t *Tracker) onGraduation(ctx context.Context, e token.GraduationEvent) {
	st := t.ensureState(e.Token, token.TriggerGraduation, e.At)
	if st == nil {
		return
	}

	st.mu.Lock()
	st.LastActivity = e.At
	st.Graduated = true
	st.mu.Unlock()

	log.Info().Str("token", e.Token.Abbrev()).Msg("🎓 graduated")
	t.rescore(ctx, st)
}

func (t *Tracker) onPoll(ctx context.Context, e token.PollTick) {
	t.mu.RLock()
	st := t.states[e.Token]
	t.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	active := st.Status == StatusActive
	if active {
		st.PollCycles++
	}
	st.mu.Unlock()

	if active {
		t.rescore(ctx, st)
	}
}

// ensureState returns the live state for a token, creating it on first
// trigger. Ignored tokens never create state. A token emitted inside the
// cooldown window re-creates with the emitted flag set so it cannot
// re-emit.
func (t *Tracker) ensureState(m token.Mint, trig token.Trigger, at time.Time) *TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.states[m]; ok {
		return st
	}
	if t.cfg.IsIgnored(m) {
		return nil
	}

	st := newTokenState(m, trig, at)
	le, ok := t.lastEmit[m]
	if !ok && t.store != nil {
		// Emit cooldown survives restarts via the signal table.
		if prev, err := t.store.LastEmission(m); err == nil && !prev.IsZero() {
			le, ok = prev, true
			t.lastEmit[m] = prev
		}
	}
	if ok && time.Since(le) < t.cfg.EmitCooldown {
		st.Emitted = true
		st.Status = StatusEmitted
	}
	t.states[m] = st

	log.Info().Str("token", m.Abbrev()).Str("trigger", string(trig)).Msg("🔍 tracking token")
	return st
}

// rescore runs one full scoring pass. Fetch failures back off; scoring never
// panics the worker.
func (t *Tracker) rescore(ctx context.Context, st *TokenState) {
	st.mu.Lock()
	if st.Status != StatusActive {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	started := time.Now()
	snap, err := t.cache.GetOrFetch(ctx, st.Mint, t.cfg.HolderPhaseEnabled, t.fetch.FetchSnapshot)
	if err != nil {
		st.mu.Lock()
		st.backoffStep++
		st.nextPollAt = time.Now().Add(fetchBackoff(st.backoffStep))
		st.mu.Unlock()
		log.Warn().Err(err).Str("token", st.Mint.Abbrev()).Msg("⚠️ fetch failed, backing off")
		return
	}

	now := time.Now()
	// KOL activity scores over its full retention window; mention counts age
	// out at MentionTTL.
	ev := t.cache.GetEvidenceAt(st.Mint, t.cfg.KOLActivityTTL, now)
	mv := t.cache.GetEvidenceAt(st.Mint, t.cfg.MentionTTL, now)
	ev.MentionCount, ev.DistinctGroups = mv.MentionCount, mv.DistinctGroups
	ev.EarliestMention, ev.LatestMention = mv.EarliestMention, mv.LatestMention
	// Tiers may have refreshed since the buy was recorded.
	for i, wb := range ev.KOLBuys {
		if tier := t.reg.Tier(wb.Wallet); tier != token.TierUnknown {
			ev.KOLBuys[i].Tier = tier
		}
	}
	social := t.socialView(st.Mint, now)

	st.mu.Lock()
	sv := conviction.StateView{
		Trigger:        st.Trigger,
		Graduated:      st.Graduated || snap.Graduated,
		PrevTop10Pct:   st.PrevTop10,
		AlreadyEmitted: st.Emitted,
	}
	st.mu.Unlock()

	res := t.engine.Score(snap, ev, social, sv, now)
	metrics.ObserveScore(time.Since(started))
	t.recordEval(res.Total)

	st.mu.Lock()
	st.backoffStep = 0
	st.LastSnapshot = snap
	st.LastResult = &res
	if snap.HoldersKnown {
		st.PrevTop10 = snap.Top10Pct
	}
	st.mu.Unlock()

	log.Debug().
		Str("token", st.Mint.Abbrev()).
		Int("score", res.Total).
		Int("mid", res.MidTotal).
		Str("decision", string(res.Decision)).
		Msg("scored")

	switch res.Decision {
	case conviction.Drop:
		st.mu.Lock()
		st.Status = StatusCooling
		st.CoolingSince = now
		st.mu.Unlock()
		log.Info().Str("token", st.Mint.Abbrev()).Strs("reasons", res.Reasons).Msg("🗑 dropped by gate")

	case conviction.Emit:
		t.emit(st, snap, &res, ev, now)

	case conviction.Hold:
		st.mu.Lock()
		if res.MidTotal < t.cfg.PollScoreFloor {
			st.LowStreak++
		} else {
			st.LowStreak = 0
		}
		st.pollingOn = res.MidTotal >= t.cfg.PollScoreFloor
		if st.pollingOn && st.nextPollAt.Before(now) {
			st.nextPollAt = now.Add(t.cfg.PollInterval)
		}
		cool := st.LowStreak >= t.cfg.LowScoreStreakLimit
		if cool {
			st.Status = StatusCooling
			st.CoolingSince = now
		}
		st.mu.Unlock()
		if cool {
			log.Info().Str("token", st.Mint.Abbrev()).Msg("❄️ low-score streak, cooling")
		}
	}
}

// emit publishes the signal and freezes the state. Delivery runs async;
// a permanent failure only annotates the record.
func (t *Tracker) emit(st *TokenState, snap *token.Snapshot, res *conviction.Result, ev evidence.View, now time.Time) {
	sig := &token.Signal{
		ID:            uuid.NewString(),
		Token:         st.Mint,
		Symbol:        snap.Symbol,
		Score:         res.Total,
		Breakdown:     res.Breakdown,
		Reasons:       res.Reasons,
		TriggerSource: st.Trigger,
		TopEvidence:   topEvidence(ev),
		EntryPriceUSD: snap.PriceUSD,
		EmittedAt:     now,
		Outcome:       token.OutcomeOpen,
	}

	if t.store != nil {
		if err := t.store.InsertSignal(sig); err != nil {
			log.Error().Err(err).Str("token", st.Mint.Abbrev()).Msg("❌ signal persist failed")
		}
	}

	st.mu.Lock()
	st.Status = StatusEmitted
	st.Emitted = true
	st.SignalID = sig.ID
	st.mu.Unlock()

	t.mu.Lock()
	t.lastEmit[st.Mint] = now
	day := now.UTC().Format("2006-01-02")
	if day != t.emittedDay {
		t.emittedDay, t.emittedToday = day, 0
	}
	t.emittedToday++
	t.mu.Unlock()

	metrics.SignalEmitted()
	log.Info().
		Str("token", st.Mint.Abbrev()).
		Str("symbol", sig.Symbol).
		Int("conviction", sig.Score).
		Str("trigger", string(sig.TriggerSource)).
		Msg("🚨 SIGNAL")

	// Correlated groups are context for the operator, not score input.
	if t.store != nil {
		if edges, err := t.store.CorrelationsForToken(st.Mint); err == nil && len(edges) > 0 {
			pairs := make([]string, 0, len(edges))
			for _, e := range edges {
				pairs = append(pairs, e.GroupA+"↔"+e.GroupB)
			}
			log.Info().Str("token", st.Mint.Abbrev()).Strs("groups", pairs).Msg("🔗 correlated calls")
		}
	}

	t.publishWG.Add(1)
	go func() {
		defer t.publishWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := t.pub.Publish(ctx, sig); err != nil {
			sig.EmitFailed = true
			metrics.SignalEmitFailed()
			if t.store != nil {
				t.store.MarkEmitFailed(sig.ID)
			}
		}
	}()
}

// socialView aggregates the windowed mention counts for the convergence phase.
func (t *Tracker) socialView(m token.Mint, now time.Time) conviction.SocialView {
	v5 := t.cache.GetEvidenceAt(m, 5*time.Minute, now)
	v10 := t.cache.GetEvidenceAt(m, 10*time.Minute, now)
	v30 := t.cache.GetEvidenceAt(m, 30*time.Minute, now)
	wide := t.cache.GetEvidenceAt(m, t.cfg.MentionTTL, now)
	return conviction.SocialView{
		Mentions5m:    v5.MentionCount,
		Mentions10m:   v10.MentionCount,
		Mentions30m:   v30.MentionCount,
		Groups10m:     v10.DistinctGroups,
		Groups30m:     v30.DistinctGroups,
		LatestMention: wide.LatestMention,
	}
}

func topEvidence(ev evidence.View) string {
	if len(ev.KOLBuys) > 0 {
		parts := make([]string, 0, len(ev.KOLBuys))
		for _, wb := range ev.KOLBuys {
			parts = append(parts, fmt.Sprintf("%s(%s)", token.Abbrev(wb.Wallet), wb.Tier))
		}
		return "KOL buys: " + strings.Join(parts, ", ")
	}
	if ev.MentionCount > 0 {
		return fmt.Sprintf("chat calls: %d mentions across %d groups", ev.MentionCount, ev.DistinctGroups)
	}
	return "graduation"
}

func (t *Tracker) recordEval(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evals = append(t.evals, total)
	if len(t.evals) > evalRingSize {
		t.evals = t.evals[len(t.evals)-evalRingSize:]
	}
}

// MedianEval is the median score of the last 50 evaluations.
func (t *Tracker) MedianEval() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.evals) == 0 {
		return 0
	}
	sorted := append([]int(nil), t.evals...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

// Summary is the /status view of the tracker.
type Summary struct {
	Active       int `json:"active"`
	Cooling      int `json:"cooling"`
	Emitted      int `json:"emitted"`
	EmittedToday int `json:"emitted_today"`
	QueueDepth   int `json:"queue_depth"`
	MedianScore  int `json:"median_score"`
}

func (t *Tracker) Status() Summary {
	t.mu.RLock()
	s := Summary{EmittedToday: t.emittedToday}
	states := make([]*TokenState, 0, len(t.states))
	for _, st := range t.states {
		states = append(states, st)
	}
	t.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		switch st.Status {
		case StatusActive:
			s.Active++
		case StatusCooling:
			s.Cooling++
		case StatusEmitted:
			s.Emitted++
		}
		st.mu.Unlock()
	}
	s.QueueDepth = t.disp.Pending()
	s.MedianScore = t.MedianEval()
	return s
}

// Run drives polling and lifecycle sweeps until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

// sweep schedules due polls and advances the COOLING / EMITTED timers.
func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	states := make([]*TokenState, 0, len(t.states))
	for _, st := range t.states {
		states = append(states, st)
	}
	t.mu.Unlock()

	var active, cooling, emitted int
	for _, st := range states {
		st.mu.Lock()
		switch st.Status {
		case StatusActive:
			active++
			// backoffStep > 0 means a failed fetch is waiting on its retry
			// even when polling was never switched on.
			if (st.pollingOn || st.backoffStep > 0) && !st.nextPollAt.IsZero() && now.After(st.nextPollAt) {
				st.nextPollAt = now.Add(t.cfg.PollInterval)
				st.mu.Unlock()
				t.disp.Enqueue(token.PollTick{Token: st.Mint})
				continue
			}
			if !st.pollingOn && t.cfg.IdleTimeout > 0 && now.Sub(st.LastActivity) > t.cfg.IdleTimeout {
				st.Status = StatusCooling
				st.CoolingSince = now
			}
		case StatusCooling:
			cooling++
			if now.Sub(st.CoolingSince) > t.cfg.CoolingWindow {
				st.Status = StatusDropped
				st.mu.Unlock()
				t.remove(st.Mint)
				continue
			}
		case StatusEmitted:
			emitted++
			t.mu.RLock()
			le := t.lastEmit[st.Mint]
			t.mu.RUnlock()
			if !le.IsZero() && now.Sub(le) > t.cfg.EmitCooldown {
				st.mu.Unlock()
				t.remove(st.Mint)
				continue
			}
		}
		st.mu.Unlock()
	}

	metrics.SetTokens("active", active)
	metrics.SetTokens("cooling", cooling)
	metrics.SetTokens("emitted", emitted)
}

func (t *Tracker) remove(m token.Mint) {
	t.mu.Lock()
	delete(t.states, m)
	t.mu.Unlock()
	log.Debug().Str("token", m.Abbrev()).Msg("🧹 state removed")
}

// Close rejects new events, drains the queues, and waits for in-flight
// publishes.
func (t *Tracker) Close() {
	t.disp.Close()
	t.publishWG.Wait()
}
