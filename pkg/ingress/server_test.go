package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/conviction"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/kol"
	"github.com/conviction-engine/pkg/token"
	"github.com/conviction-engine/pkg/tracker"
)

const (
	mintA      = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	mintB      = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	eliteAddr  = "EL1teWa11etAddr111111111111111111111111111"
	wsolIgnore = "So11111111111111111111111111111111111111112"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:            ":0",
		ThresholdPreGrad:    45,
		ThresholdPostGrad:   50,
		MidGate:             60,
		PollScoreFloor:      50,
		LiquidityFloorUSD:   8000,
		Weights:             config.Weights{SmartWallet: 40, Bundle: 40, UniqueBuyers: 15, Volume: 30, Social: 16, Pressure: 20, Holders: 40, Rug: 40, Convergence: 25},
		PollInterval:        time.Hour,
		LowScoreStreakLimit: 10,
		CoolingWindow:       time.Minute,
		EmitCooldown:        24 * time.Hour,
		IdleTimeout:         time.Hour,
		MentionTTL:          4 * time.Hour,
		SnapshotFreshness:   time.Minute,
		CorrelationWindow:   30 * time.Minute,
		KOLDedupWindow:      2 * time.Second,
		MentionDedupWindow:  time.Millisecond,
		KOLActivityCap:      200,
		BuyerCap:            500,
		SocialPhaseEnabled:  true,
		HolderPhaseEnabled:  true,
		Workers:             2,
		QueueHighWatermark:  1024,
		GroupMentionQuota:   32,
		KOLWallets: []token.KOLWallet{
			{Address: eliteAddr, Name: "whale", Tier: token.TierElite},
		},
		IgnoreTokens: map[token.Mint]bool{wsolIgnore: true},
	}
}

type stubFetcher struct{}

func (stubFetcher) FetchSnapshot(ctx context.Context, m token.Mint, includeHolders bool) (*token.Snapshot, error) {
	return &token.Snapshot{
		Mint:         m,
		Symbol:       "TST",
		PriceUSD:     0.001,
		LiquidityUSD: 25000,
		Quality:      90,
		FetchedAt:    time.Now(),
	}, nil
}

type stubPub struct {
	mu   sync.Mutex
	sigs []*token.Signal
}

func (p *stubPub) Publish(ctx context.Context, sig *token.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sigs = append(p.sigs, sig)
	return nil
}

func newTestServer(t *testing.T) (*Server, *tracker.Tracker, *evidence.Cache) {
	t.Helper()
	cfg := testConfig()
	cache := evidence.NewCache(cfg, nil)
	reg := kol.New(cfg, nil)
	tr := tracker.New(cfg, cache, conviction.New(cfg), stubFetcher{}, reg, &stubPub{}, nil)
	t.Cleanup(tr.Close)
	return New(cfg, tr, cache, reg), tr, cache
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Code == 200 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestKOLBuyWebhookDispatchesCuratedWallet(t *testing.T) {
	s, tr, _ := newTestServer(t)
	h := s.Handler()

	body := fmt.Sprintf(`[{"wallet":%q,"mint":%q,"kind":"BUY","notional_usd":1200}]`, eliteAddr, mintA)
	rec, out := doJSON(t, h, "POST", "/webhook/kol-buy", body)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "success", out["status"])
	require.Eventually(t, func() bool { return tr.Tracked(mintA) }, 2*time.Second, 5*time.Millisecond)
}

func TestUnknownWalletIsFilteredSilently(t *testing.T) {
	s, tr, _ := newTestServer(t)
	h := s.Handler()

	body := fmt.Sprintf(`[{"wallet":"nobody","mint":%q,"kind":"BUY"}]`, mintB)
	rec, out := doJSON(t, h, "POST", "/webhook/kol-buy", body)

	assert.Equal(t, 200, rec.Code, "delivery contract holds even when nothing resulted")
	assert.Equal(t, "success", out["status"])
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tr.Tracked(mintB), "unknown wallet never opens tracking")
}

func TestIgnoredMintFilteredSilently(t *testing.T) {
	s, tr, _ := newTestServer(t)
	h := s.Handler()

	body := fmt.Sprintf(`[{"wallet":%q,"mint":%q,"kind":"BUY"}]`, eliteAddr, wsolIgnore)
	rec, _ := doJSON(t, h, "POST", "/webhook/kol-buy", body)

	assert.Equal(t, 200, rec.Code)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tr.Tracked(wsolIgnore))
}

func TestMalformedBodyStillSucceeds(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, out := doJSON(t, s.Handler(), "POST", "/webhook/kol-buy", `{not json`)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "success", out["status"])
}

func TestGraduationWebhookOpensTracking(t *testing.T) {
	s, tr, _ := newTestServer(t)
	h := s.Handler()

	body := fmt.Sprintf(`[{"mint":%q}]`, mintA)
	rec, _ := doJSON(t, h, "POST", "/webhook/graduation", body)

	assert.Equal(t, 200, rec.Code)
	require.Eventually(t, func() bool { return tr.Tracked(mintA) }, 2*time.Second, 5*time.Millisecond)
}

func TestMentionEndpointReturnsWindowCounts(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	_, out := doJSON(t, h, "GET", "/webhook/mention?token="+mintA+"&group=alpha", "")
	assert.Equal(t, "received", out["status"])
	assert.EqualValues(t, 1, out["mentions"])
	assert.EqualValues(t, 1, out["groups"])
	assert.EqualValues(t, 1, out["group_tokens_today"])

	_, out = doJSON(t, h, "GET", "/webhook/mention?token="+mintA+"&group=beta", "")
	assert.EqualValues(t, 2, out["mentions"])
	assert.EqualValues(t, 2, out["groups"])
}

func TestMentionInvalidMintAbsorbed(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rec, out := doJSON(t, h, "GET", "/webhook/mention?token=0xdeadbeef&group=alpha", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ignored", out["status"])

	rec, out = doJSON(t, h, "GET", "/webhook/mention?token="+mintA, "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ignored", out["status"], "missing group is ignored")
}

func TestStatusEndpoint(t *testing.T) {
	s, _, cache := newTestServer(t)
	h := s.Handler()

	cache.RecordMention(token.ChatMentionEvent{Token: mintA, Group: "alpha", At: time.Now()})

	rec, out := doJSON(t, h, "GET", "/status", "")
	assert.Equal(t, 200, rec.Code)
	require.Contains(t, out, "tracker")
	require.Contains(t, out, "cache")
	assert.EqualValues(t, 1, out["kol_wallets"])

	cacheStats := out["cache"].(map[string]interface{})
	assert.EqualValues(t, 1, cacheStats["mentions"])
}

func TestDrainingRejectsWebhooks(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.draining.Store(true)
	h := s.Handler()

	rec, _ := doJSON(t, h, "POST", "/webhook/kol-buy", "[]")
	assert.Equal(t, 503, rec.Code)

	rec, _ = doJSON(t, h, "GET", "/webhook/mention?token="+mintA+"&group=alpha", "")
	assert.Equal(t, 503, rec.Code)

	rec, _ = doJSON(t, h, "GET", "/status", "")
	assert.Equal(t, 200, rec.Code, "status stays up through the drain")
}

func TestMetricsEndpointServes(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "conviction_")
}
