package tracker

import (
	"sync"

	"github.com/conviction-engine/pkg/metrics"
	"github.com/conviction-engine/pkg/token"
)

// Dispatcher runs a worker pool over per-token FIFO queues: at most one
// in-flight job per token, full parallelism across tokens. Above the high
// watermark it sheds load by event class; critical events are never dropped.
type Dispatcher struct {
	handler    func(token.Event)
	highWater  int
	groupQuota int

	mu             sync.Mutex
	cond           *sync.Cond
	queues         map[token.Mint][]token.Event
	ready          []token.Mint
	inReady        map[token.Mint]bool
	inflight       map[token.Mint]bool
	mentionPending map[string]int
	pending        int
	closed         bool

	wg sync.WaitGroup
}

func NewDispatcher(workers, highWater, groupQuota int, handler func(token.Event)) *Dispatcher {
	d := &Dispatcher{
		handler:        handler,
		highWater:      highWater,
		groupQuota:     groupQuota,
		queues:         make(map[token.Mint][]token.Event),
		inReady:        make(map[token.Mint]bool),
		inflight:       make(map[token.Mint]bool),
		mentionPending: make(map[string]int),
	}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue accepts one event into its token's queue. Returns false when the
// dispatcher is draining or the event was shed under backpressure.
func (d *Dispatcher) Enqueue(ev token.Event) bool {
	m := ev.EventMint()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	if d.pending >= d.highWater && d.shed(ev) {
		metrics.EventDropped(className(ev.EventClass()))
		return false
	}

	d.queues[m] = append(d.queues[m], ev)
	d.pending++
	metrics.SetQueueDepth(d.pending)
	if me, ok := ev.(token.ChatMentionEvent); ok {
		d.mentionPending[me.Group]++
	}

	if !d.inflight[m] && !d.inReady[m] {
		d.ready = append(d.ready, m)
		d.inReady[m] = true
		d.cond.Signal()
	}
	return true
}

// shed decides whether an event is dropped above the watermark. Drop order:
// polls, mentions from groups over quota, trades, low-tier KOL buys.
// Caller holds d.mu.
func (d *Dispatcher) shed(ev token.Event) bool {
	switch ev.EventClass() {
	case token.ClassPoll, token.ClassTrade, token.ClassKOL:
		return true
	case token.ClassMention:
		me := ev.(token.ChatMentionEvent)
		return d.mentionPending[me.Group] >= d.groupQuota
	}
	return false
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	d.mu.Lock()
	for {
		for len(d.ready) == 0 {
			if d.closed && d.pending == 0 {
				d.mu.Unlock()
				return
			}
			d.cond.Wait()
		}

		m := d.ready[0]
		d.ready = d.ready[1:]
		d.inReady[m] = false

		q := d.queues[m]
		ev := q[0]
		d.queues[m] = q[1:]
		d.inflight[m] = true
		d.mu.Unlock()

		d.handler(ev)

		d.mu.Lock()
		d.inflight[m] = false
		d.pending--
		metrics.SetQueueDepth(d.pending)
		if me, ok := ev.(token.ChatMentionEvent); ok {
			d.mentionPending[me.Group]--
		}
		if len(d.queues[m]) > 0 {
			d.ready = append(d.ready, m)
			d.inReady[m] = true
		} else {
			delete(d.queues, m)
		}
		d.cond.Broadcast()
	}
}

// Pending reports the events queued across all tokens.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Close stops intake, drains every queued job, and waits for the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

func className(c token.Class) string {
	switch c {
	case token.ClassPoll:
		return "poll"
	case token.ClassMention:
		return "mention"
	case token.ClassTrade:
		return "trade"
	case token.ClassKOL:
		return "kol"
	}
	return "critical"
}
