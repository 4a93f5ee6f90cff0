package tracker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conviction-engine/pkg/token"
)

func TestPerTokenFIFOOrdering(t *testing.T) {
	var mu sync.Mutex
	got := map[token.Mint][]string{}

	d := NewDispatcher(4, 1024, 8, func(ev token.Event) {
		e := ev.(token.TradeEvent)
		time.Sleep(time.Millisecond)
		mu.Lock()
		got[e.Token] = append(got[e.Token], e.Buyer)
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		require.True(t, d.Enqueue(token.TradeEvent{Token: "alpha", Buyer: fmt.Sprintf("a%02d", i), Kind: token.TxBuy}))
		require.True(t, d.Enqueue(token.TradeEvent{Token: "beta", Buyer: fmt.Sprintf("b%02d", i), Kind: token.TxBuy}))
	}
	d.Close()

	require.Len(t, got["alpha"], 20)
	require.Len(t, got["beta"], 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("a%02d", i), got["alpha"][i])
		assert.Equal(t, fmt.Sprintf("b%02d", i), got["beta"][i])
	}
}

func TestBackpressureShedsByClass(t *testing.T) {
	block := make(chan struct{})
	var handled int32

	d := NewDispatcher(1, 2, 1, func(ev token.Event) {
		<-block
		atomic.AddInt32(&handled, 1)
	})

	// Fill to the watermark; the first event is picked up and blocks the
	// single worker, the second waits in queue.
	require.True(t, d.Enqueue(token.TradeEvent{Token: "t1", Buyer: "x", Kind: token.TxBuy}))
	require.True(t, d.Enqueue(token.TradeEvent{Token: "t2", Buyer: "y", Kind: token.TxBuy}))

	// Above the watermark: polls, trades, and low-tier KOL buys are shed.
	assert.False(t, d.Enqueue(token.PollTick{Token: "t3"}))
	assert.False(t, d.Enqueue(token.TradeEvent{Token: "t3", Buyer: "z", Kind: token.TxBuy}))
	assert.False(t, d.Enqueue(token.KOLBuyEvent{Token: "t3", Wallet: "w", Kind: token.TxBuy, Tier: token.TierStandard}))

	// Critical events always land. Elite and top-tier buys both qualify.
	assert.True(t, d.Enqueue(token.KOLBuyEvent{Token: "t3", Wallet: "w", Kind: token.TxBuy, Tier: token.TierElite}))
	assert.True(t, d.Enqueue(token.KOLBuyEvent{Token: "t3", Wallet: "w2", Kind: token.TxBuy, Tier: token.TierTopKOL}))
	assert.True(t, d.Enqueue(token.GraduationEvent{Token: "t4"}))

	// Mentions land until their group hits the quota.
	assert.True(t, d.Enqueue(token.ChatMentionEvent{Token: "t5", Group: "g1"}))
	assert.False(t, d.Enqueue(token.ChatMentionEvent{Token: "t6", Group: "g1"}))
	assert.True(t, d.Enqueue(token.ChatMentionEvent{Token: "t6", Group: "g2"}))

	close(block)
	d.Close()
	assert.Equal(t, int32(7), atomic.LoadInt32(&handled))
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	var handled int32
	d := NewDispatcher(2, 1024, 8, func(token.Event) {
		atomic.AddInt32(&handled, 1)
	})

	for i := 0; i < 50; i++ {
		m := token.Mint(fmt.Sprintf("tok%d", i%5))
		require.True(t, d.Enqueue(token.TradeEvent{Token: m, Buyer: fmt.Sprintf("b%d", i), Kind: token.TxBuy}))
	}
	d.Close()

	assert.Equal(t, int32(50), atomic.LoadInt32(&handled))
	assert.False(t, d.Enqueue(token.PollTick{Token: "late"}), "closed dispatcher rejects intake")
	assert.Equal(t, 0, d.Pending())
}
