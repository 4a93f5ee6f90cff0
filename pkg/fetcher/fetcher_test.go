package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conviction-engine/pkg/config"
)

const mintA = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

const marketBody = `{"pairs":[{
	"baseToken":{"symbol":"TST","name":"Test Token"},
	"priceUsd":"0.0015",
	"liquidity":{"usd":25000,"base":1000000,"quote":150},
	"volume":{"h1":40000,"h6":90000,"h24":120000},
	"txns":{"h1":{"buys":50,"sells":10},"h24":{"buys":75,"sells":25}},
	"priceChange":{"h1":35,"h24":120},
	"marketCap":500000,
	"info":{"websites":[{"url":"https://t.st"}],"socials":[{"type":"twitter"},{"type":"telegram"}]},
	"boosts":{"active":0}
}]}`

const riskBody = `{
	"score_normalised":2,
	"risks":[],
	"bundle":{"detected":false,"size":0},
	"launchpad":{"graduated":true,"curve_pct":0}
}`

const holderBody = `{"data":{"total":420,"items":[
	{"owner":"h1","percentage":8},{"owner":"h2","percentage":5},
	{"owner":"h3","percentage":4},{"owner":"h4","percentage":3},
	{"owner":"h5","percentage":2},{"owner":"h6","percentage":1},
	{"owner":"h7","percentage":1},{"owner":"h8","percentage":0.5},
	{"owner":"h9","percentage":0.3},{"owner":"h10","percentage":0.2}
]}}`

func testFetcher(market, risk, holders http.HandlerFunc) (*Fetcher, func()) {
	mux := http.NewServeMux()
	if market != nil {
		mux.HandleFunc("/latest/dex/tokens/", market)
	}
	if risk != nil {
		mux.HandleFunc("/v1/tokens/", risk)
	}
	if holders != nil {
		mux.HandleFunc("/defi/", holders)
	}
	srv := httptest.NewServer(mux)

	cfg := &config.Config{
		FetchTimeout:   2 * time.Second,
		DexScreenerURL: srv.URL,
		RugCheckURL:    srv.URL,
		BirdeyeURL:     srv.URL,
	}
	return New(cfg), srv.Close
}

func serve(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) }
}

func fail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }
}

func TestFetchAllProvidersHealthy(t *testing.T) {
	f, done := testFetcher(serve(marketBody), serve(riskBody), serve(holderBody))
	defer done()

	snap, err := f.FetchSnapshot(context.Background(), mintA, true)
	require.NoError(t, err)

	assert.Equal(t, "TST", snap.Symbol)
	assert.Equal(t, 25000.0, snap.LiquidityUSD)
	assert.Equal(t, 40000.0, snap.Volume1h)
	assert.Equal(t, 75, snap.Buys24h)
	assert.Equal(t, 35.0, snap.PriceChange1h)
	assert.True(t, snap.Socials.Twitter)
	assert.True(t, snap.Socials.Telegram)
	assert.True(t, snap.Socials.Website)
	assert.False(t, snap.Boosted)
	assert.True(t, snap.Graduated)

	assert.True(t, snap.HoldersKnown)
	assert.Equal(t, 420, snap.HolderCount)
	assert.InDelta(t, 25.0, snap.Top10Pct, 0.01)

	assert.Equal(t, 100, snap.Quality)
	assert.False(t, snap.Stale)
	assert.Empty(t, snap.Missing)
}

func TestHolderDataGatedByFlag(t *testing.T) {
	var holderCalls int32
	f, done := testFetcher(serve(marketBody), serve(riskBody), func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&holderCalls, 1)
		w.Write([]byte(holderBody))
	})
	defer done()

	snap, err := f.FetchSnapshot(context.Background(), mintA, false)
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(&holderCalls), "holder provider not called without the flag")
	assert.False(t, snap.HoldersKnown)
	assert.Equal(t, 100, snap.Quality, "quality redistributes to market+risk")
}

func TestPartialFailureDegradesQuality(t *testing.T) {
	f, done := testFetcher(serve(marketBody), fail(), nil)
	defer done()

	snap, err := f.FetchSnapshot(context.Background(), mintA, false)
	require.NoError(t, err, "partial failure is not an error")

	assert.Equal(t, 60, snap.Quality)
	assert.False(t, snap.Stale)
	require.Len(t, snap.Missing, 1)
	assert.Contains(t, snap.Missing[0], "risk:")
}

func TestTotalFailureYieldsStaleSnapshot(t *testing.T) {
	f, done := testFetcher(fail(), fail(), nil)
	defer done()

	snap, err := f.FetchSnapshot(context.Background(), mintA, false)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Quality)
	assert.True(t, snap.Stale)
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	var marketCalls int32
	release := make(chan struct{})
	f, done := testFetcher(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&marketCalls, 1)
		<-release
		w.Write([]byte(marketBody))
	}, serve(riskBody), nil)
	defer done()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.FetchSnapshot(context.Background(), mintA, false)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&marketCalls), "five concurrent callers, one outbound request")
}

func TestCurveVelocityDerivedAcrossFetches(t *testing.T) {
	curve := `{"score_normalised":1,"risks":[],"bundle":{},"launchpad":{"graduated":false,"curve_pct":%PCT%}}`
	pct := "40"
	var mu sync.Mutex
	f, done := testFetcher(serve(marketBody), func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		w.Write([]byte(strings.Replace(curve, "%PCT%", pct, 1)))
		mu.Unlock()
	}, nil)
	defer done()

	snap1, err := f.FetchSnapshot(context.Background(), mintA, false)
	require.NoError(t, err)
	assert.Zero(t, snap1.CurveVelocity, "no prior observation")

	mu.Lock()
	pct = "55"
	mu.Unlock()

	// Back-date the stored observation so the delta spans a full minute.
	f.mu.Lock()
	f.lastCurve[mintA] = curvePoint{pct: 40, at: time.Now().Add(-time.Minute)}
	f.mu.Unlock()

	snap2, err := f.FetchSnapshot(context.Background(), mintA, false)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, snap2.CurveVelocity, 1.0, "55%-40% over one minute")
}
