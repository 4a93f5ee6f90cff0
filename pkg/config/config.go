package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/conviction-engine/pkg/token"
)

// Weights are the per-phase caps. Penalty phases hold the absolute value of
// their floor.
type Weights struct {
	SmartWallet  int // phase 1 positive cap
	Bundle       int // phase 3 penalty cap
	UniqueBuyers int // phase 4 positive cap
	Volume       int // phase 5 positive cap
	Social       int // phase 6 positive cap (floor fixed at -25)
	Pressure     int // phase 7 positive cap
	Holders      int // phase 8 penalty cap (+5 upside fixed)
	Rug          int // phase 9 penalty cap
	Convergence  int // phase 10 positive cap
}

type Config struct {
	// HTTP ingress
	HTTPAddr string

	// Persistence; empty path disables the store entirely
	DBPath string

	// Notification sinks; empty values disable the sink
	NotifyWebhookURL string
	NATSURL          string
	NATSSubject      string

	// Scoring thresholds
	ThresholdPreGrad  int
	ThresholdPostGrad int
	MidGate           int
	PollScoreFloor    int

	// Hard gate
	LiquidityFloorUSD float64
	MCapCeilingUSD    float64 // 0 = unlimited

	Weights Weights

	// Tracker cadence
	PollInterval        time.Duration
	LowScoreStreakLimit int
	CoolingWindow       time.Duration
	EmitCooldown        time.Duration
	IdleTimeout         time.Duration

	// Evidence TTLs, caps, and dedup windows
	MentionTTL         time.Duration
	KOLActivityTTL     time.Duration
	SnapshotTTL        time.Duration
	SnapshotFreshness  time.Duration
	CorrelationWindow  time.Duration
	KOLDedupWindow     time.Duration
	MentionDedupWindow time.Duration
	KOLActivityCap     int
	BuyerCap           int

	// Feature flags
	SocialPhaseEnabled bool
	HolderPhaseEnabled bool

	// Dispatch
	Workers            int
	QueueHighWatermark int
	GroupMentionQuota  int

	// Fetcher providers
	FetchTimeout   time.Duration
	DexScreenerURL string
	BirdeyeURL     string
	BirdeyeAPIKey  string
	RugCheckURL    string

	// KOL registry
	KOLWallets    []token.KOLWallet
	KOLStatsURL   string
	KOLRefreshRPS float64

	// Ignore list, merged with the built-in never-track set
	IgnoreTokens map[token.Mint]bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),
		DBPath:   envOr("DB_PATH", "conviction.db"),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		NATSURL:          os.Getenv("NATS_URL"),
		NATSSubject:      envOr("NATS_SUBJECT", "signals.conviction"),

		ThresholdPreGrad:  envInt("THRESHOLD_PRE_GRAD", 45),
		ThresholdPostGrad: envInt("THRESHOLD_POST_GRAD", 50),
		MidGate:           envInt("MID_GATE", 60),
		PollScoreFloor:    envInt("POLL_SCORE_FLOOR", 50),

		LiquidityFloorUSD: envFloat("LIQUIDITY_FLOOR_USD", 8000),
		MCapCeilingUSD:    envFloat("MCAP_CEILING_USD", 0),

		Weights: Weights{
			SmartWallet:  envInt("WEIGHT_SMART_WALLET", 40),
			Bundle:       envInt("WEIGHT_BUNDLE", 40),
			UniqueBuyers: envInt("WEIGHT_UNIQUE_BUYERS", 15),
			Volume:       envInt("WEIGHT_VOLUME", 30),
			Social:       envInt("WEIGHT_SOCIAL", 16),
			Pressure:     envInt("WEIGHT_PRESSURE", 20),
			Holders:      envInt("WEIGHT_HOLDERS", 40),
			Rug:          envInt("WEIGHT_RUG", 40),
			Convergence:  envInt("WEIGHT_CONVERGENCE", 25),
		},

		PollInterval:        envDur("POLL_INTERVAL", 30*time.Second),
		LowScoreStreakLimit: envInt("LOW_SCORE_STREAK_LIMIT", 6),
		CoolingWindow:       envDur("COOLING_WINDOW", 30*time.Minute),
		EmitCooldown:        envDur("EMIT_COOLDOWN", 24*time.Hour),
		IdleTimeout:         envDur("IDLE_TIMEOUT", 2*time.Hour),

		MentionTTL:         envDur("MENTION_TTL", 4*time.Hour),
		KOLActivityTTL:     envDur("KOL_ACTIVITY_TTL", 30*24*time.Hour),
		SnapshotTTL:        envDur("SNAPSHOT_TTL", 5*time.Minute),
		SnapshotFreshness:  envDur("SNAPSHOT_FRESHNESS", 60*time.Second),
		CorrelationWindow:  envDur("CORRELATION_WINDOW", 30*time.Minute),
		KOLDedupWindow:     envDur("KOL_DEDUP_WINDOW", 2*time.Second),
		MentionDedupWindow: envDur("MENTION_DEDUP_WINDOW", 30*time.Second),
		KOLActivityCap:     envInt("KOL_ACTIVITY_CAP", 200),
		BuyerCap:           envInt("BUYER_CAP", 500),

		SocialPhaseEnabled: envBool("SOCIAL_PHASE_ENABLED", true),
		HolderPhaseEnabled: envBool("HOLDER_PHASE_ENABLED", true),

		Workers:            envInt("WORKERS", 8),
		QueueHighWatermark: envInt("QUEUE_HIGH_WATERMARK", 4096),
		GroupMentionQuota:  envInt("GROUP_MENTION_QUOTA", 32),

		FetchTimeout:   envDur("FETCH_TIMEOUT", 5*time.Second),
		DexScreenerURL: envOr("DEXSCREENER_URL", "https://api.dexscreener.com"),
		BirdeyeURL:     envOr("BIRDEYE_URL", "https://public-api.birdeye.so"),
		BirdeyeAPIKey:  os.Getenv("BIRDEYE_API_KEY"),
		RugCheckURL:    envOr("RUGCHECK_URL", "https://api.rugcheck.xyz"),

		KOLStatsURL:   os.Getenv("KOL_STATS_URL"),
		KOLRefreshRPS: envFloat("KOL_REFRESH_RPS", 0.5),
	}

	// Parse curated wallets: "addr:name:tier,addr:name:tier"
	for _, w := range splitTrim(os.Getenv("KOL_WALLETS")) {
		parts := strings.SplitN(w, ":", 3)
		kw := token.KOLWallet{Address: parts[0], Tier: token.TierUnknown}
		if len(parts) >= 2 {
			kw.Name = parts[1]
		}
		if len(parts) == 3 {
			kw.Tier = token.ParseTier(parts[2])
		}
		if kw.Address != "" {
			cfg.KOLWallets = append(cfg.KOLWallets, kw)
		}
	}

	// Ignore list: built-ins plus configured extras
	cfg.IgnoreTokens = make(map[token.Mint]bool, len(token.NeverTrack))
	for m := range token.NeverTrack {
		cfg.IgnoreTokens[m] = true
	}
	for _, t := range splitTrim(os.Getenv("IGNORE_TOKENS")) {
		cfg.IgnoreTokens[token.Mint(t)] = true
	}

	return cfg, nil
}

// IsIgnored reports whether a mint must never create tracking state.
func (c *Config) IsIgnored(m token.Mint) bool { return c.IgnoreTokens[m] }

// Threshold returns the emit threshold applying to a token's graduation state.
func (c *Config) Threshold(graduated bool) int {
	if graduated {
		return c.ThresholdPostGrad
	}
	return c.ThresholdPreGrad
}

func (c *Config) Validate() error {
	if c.ThresholdPreGrad <= 0 || c.ThresholdPostGrad <= 0 {
		return fmt.Errorf("thresholds must be positive (pre=%d post=%d)", c.ThresholdPreGrad, c.ThresholdPostGrad)
	}
	if c.MidGate < 0 {
		return fmt.Errorf("MID_GATE must be >= 0, got %d", c.MidGate)
	}
	if c.LiquidityFloorUSD < 0 {
		return fmt.Errorf("LIQUIDITY_FLOOR_USD must be >= 0, got %.2f", c.LiquidityFloorUSD)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be >= 1s, got %s", c.PollInterval)
	}
	if c.LowScoreStreakLimit < 1 {
		return fmt.Errorf("LOW_SCORE_STREAK_LIMIT must be >= 1, got %d", c.LowScoreStreakLimit)
	}
	if c.QueueHighWatermark < c.Workers {
		return fmt.Errorf("QUEUE_HIGH_WATERMARK %d below worker count %d", c.QueueHighWatermark, c.Workers)
	}
	w := c.Weights
	for name, v := range map[string]int{
		"WEIGHT_SMART_WALLET":  w.SmartWallet,
		"WEIGHT_BUNDLE":        w.Bundle,
		"WEIGHT_UNIQUE_BUYERS": w.UniqueBuyers,
		"WEIGHT_VOLUME":        w.Volume,
		"WEIGHT_SOCIAL":        w.Social,
		"WEIGHT_PRESSURE":      w.Pressure,
		"WEIGHT_HOLDERS":       w.Holders,
		"WEIGHT_RUG":           w.Rug,
		"WEIGHT_CONVERGENCE":   w.Convergence,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", name, v)
		}
	}
	for _, kw := range c.KOLWallets {
		if _, err := token.ParseMint(kw.Address); err != nil {
			return fmt.Errorf("KOL_WALLETS entry %q: %w", kw.Address, err)
		}
	}
	return nil
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
