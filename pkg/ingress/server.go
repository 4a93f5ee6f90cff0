package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/kol"
	"github.com/conviction-engine/pkg/token"
	"github.com/conviction-engine/pkg/tracker"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP ingress: webhook adapters, /status, and /metrics. The
// webhook handlers only parse, validate address shape, filter, and dispatch;
// everything stateful lives behind the tracker.
type Server struct {
	cfg   *config.Config
	tr    *tracker.Tracker
	cache *evidence.Cache
	reg   *kol.Registry

	draining atomic.Bool
}

func New(cfg *config.Config, tr *tracker.Tracker, cache *evidence.Cache, reg *kol.Registry) *Server {
	return &Server{cfg: cfg, tr: tr, cache: cache, reg: reg}
}

// Handler builds the route table. Split out so tests can drive it directly.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook/kol-buy", s.handleKOLBuy).Methods("POST")
	r.HandleFunc("/webhook/graduation", s.handleGraduation).Methods("POST")
	r.HandleFunc("/webhook/mention", s.handleMention).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Use(s.accessLog)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
// Webhooks reply 503 during the drain so the upstream redelivers elsewhere.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.draining.Store(true)
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", s.cfg.HTTPAddr).Msg("🌐 ingress listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// txSummary is one entry of the inbound transaction webhook body.
type txSummary struct {
	Wallet      string  `json:"wallet"`
	Mint        string  `json:"mint"`
	Kind        string  `json:"kind"`
	Buyer       string  `json:"buyer,omitempty"`
	NotionalUSD float64 `json:"notional_usd,omitempty"`
	CurvePct    float64 `json:"curve_pct,omitempty"`
	Timestamp   int64   `json:"timestamp,omitempty"` // unix seconds, 0 = now
}

func (t txSummary) at() time.Time {
	if t.Timestamp > 0 {
		return time.Unix(t.Timestamp, 0)
	}
	return time.Now()
}

// handleKOLBuy ingests the transaction feed. Curated wallets become
// KOLBuyEvents; unknown wallets only feed the buyer count of tokens already
// under tracking. The reply is 200 regardless of how many events resulted,
// per the upstream delivery contract.
func (s *Server) handleKOLBuy(w http.ResponseWriter, r *http.Request) {
	if s.rejectDraining(w) {
		return
	}

	for _, tx := range s.readTxs(r) {
		mint, err := token.ParseMint(tx.Mint)
		if err != nil {
			continue
		}
		kind, err := token.ParseTxKind(tx.Kind)
		if err != nil {
			continue
		}

		if wallet, known := s.reg.Lookup(tx.Wallet); known {
			s.tr.Dispatch(token.KOLBuyEvent{
				Token:    mint,
				Wallet:   wallet.Address,
				Buyer:    tx.Buyer,
				Kind:     kind,
				Tier:     wallet.Tier,
				Notional: tx.NotionalUSD,
				CurvePct: tx.CurvePct,
				At:       tx.at(),
			})
			continue
		}
		if s.tr.Tracked(mint) {
			buyer := tx.Buyer
			if buyer == "" {
				buyer = tx.Wallet
			}
			s.tr.Dispatch(token.TradeEvent{Token: mint, Buyer: buyer, Kind: kind, At: tx.at()})
		}
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleGraduation(w http.ResponseWriter, r *http.Request) {
	if s.rejectDraining(w) {
		return
	}

	for _, tx := range s.readTxs(r) {
		mint, err := token.ParseMint(tx.Mint)
		if err != nil {
			continue
		}
		s.tr.Dispatch(token.GraduationEvent{Token: mint, At: tx.at()})
	}
	writeJSON(w, map[string]string{"status": "success"})
}

// handleMention records one chat call and replies with the cumulative
// window counts. Malformed mints are absorbed, never surfaced upstream.
func (s *Server) handleMention(w http.ResponseWriter, r *http.Request) {
	if s.rejectDraining(w) {
		return
	}

	q := r.URL.Query()
	group := q.Get("group")
	mint, err := token.ParseMint(q.Get("token"))
	if err != nil || group == "" {
		writeJSON(w, map[string]string{"status": "ignored"})
		return
	}

	s.cache.RecordMention(token.ChatMentionEvent{
		Token: mint,
		Group: group,
		Text:  q.Get("text"),
		At:    time.Now(),
	})

	now := time.Now()
	view := s.cache.GetEvidence(mint, s.cfg.MentionTTL)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	writeJSON(w, map[string]interface{}{
		"status":             "received",
		"token":              mint,
		"mentions":           view.MentionCount,
		"groups":             view.DistinctGroups,
		"group_tokens_today": len(s.cache.TokensToday(group, midnight)),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"tracker":     s.tr.Status(),
		"cache":       s.cache.Stats(),
		"kol_wallets": s.reg.Len(),
	})
}

// readTxs decodes the body, tolerating garbage: a webhook source that sends
// malformed JSON still gets its 200.
func (s *Server) readTxs(r *http.Request) []txSummary {
	var txs []txSummary
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&txs); err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("unparseable webhook body")
		return nil
	}
	return txs
}

func (s *Server) rejectDraining(w http.ResponseWriter) bool {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}
