package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/conviction-engine/pkg/token"
)

// Payload is the structured notification handed to every sink.
type Payload struct {
	Token         token.Mint     `json:"token"`
	Symbol        string         `json:"symbol"`
	Conviction    int            `json:"conviction"`
	Breakdown     map[string]int `json:"breakdown"`
	TriggerSource token.Trigger  `json:"trigger_source"`
	TopEvidence   string         `json:"top_evidence"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Links         Links          `json:"links"`
}

// Links point at the public explorers for the token.
type Links struct {
	Solscan     string `json:"solscan"`
	DexScreener string `json:"dexscreener"`
	Birdeye     string `json:"birdeye"`
}

func explorerLinks(m token.Mint) Links {
	return Links{
		Solscan:     fmt.Sprintf("https://solscan.io/token/%s", m),
		DexScreener: fmt.Sprintf("https://dexscreener.com/solana/%s", m),
		Birdeye:     fmt.Sprintf("https://birdeye.so/token/%s", m),
	}
}

// Sink delivers one payload to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, p Payload) error
}

// Publisher fans a signal out to every configured sink with retries.
// Delivery is fire-and-forget from the tracker's point of view; exhausted
// retries surface as a PublishFailure.
type Publisher struct {
	sinks []Sink

	// retryDelay is the first backoff step; doubled per attempt.
	retryDelay time.Duration
}

const maxAttempts = 3

func New(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, retryDelay: time.Second}
}

// Publish delivers the signal to every sink. Returns a PublishFailure when
// any sink exhausted its retries.
func (p *Publisher) Publish(ctx context.Context, sig *token.Signal) error {
	payload := Payload{
		Token:         sig.Token,
		Symbol:        sig.Symbol,
		Conviction:    sig.Score,
		Breakdown:     sig.Breakdown,
		TriggerSource: sig.TriggerSource,
		TopEvidence:   sig.TopEvidence,
		EmittedAt:     sig.EmittedAt,
		Links:         explorerLinks(sig.Token),
	}

	var lastErr error
	for _, sink := range p.sinks {
		if err := p.deliver(ctx, sink, payload); err != nil {
			log.Error().Err(err).Str("sink", sink.Name()).Str("token", sig.Token.Abbrev()).Msg("❌ signal delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

func (p *Publisher) deliver(ctx context.Context, sink Sink, payload Payload) error {
	delay := p.retryDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = sink.Publish(ctx, payload); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return &token.PublishFailure{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}
	return &token.PublishFailure{Attempts: maxAttempts, Err: err}
}

// ── Webhook sink ────────────────────────────────────────────

type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
	return nil
}

// ── NATS sink ───────────────────────────────────────────────

type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, body)
}

func (s *NATSSink) Close() { s.conn.Close() }
