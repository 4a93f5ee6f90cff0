package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/conviction-engine/pkg/config"
	"github.com/conviction-engine/pkg/conviction"
	"github.com/conviction-engine/pkg/db"
	"github.com/conviction-engine/pkg/evidence"
	"github.com/conviction-engine/pkg/fetcher"
	"github.com/conviction-engine/pkg/ingress"
	"github.com/conviction-engine/pkg/kol"
	"github.com/conviction-engine/pkg/publisher"
	"github.com/conviction-engine/pkg/token"
	"github.com/conviction-engine/pkg/tracker"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("⚡ conviction engine starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation failed")
	}

	var store *db.Store
	if cfg.DBPath != "" {
		store, err = db.NewStore(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("database init failed")
		}
		defer store.Close()
	} else {
		log.Warn().Msg("no DB path configured, running without persistence")
	}

	// A nil *db.Store must stay a nil interface downstream.
	var sigStore tracker.SignalStore
	var persister evidence.Persister
	var kolStore kol.Store
	if store != nil {
		sigStore, persister, kolStore = store, store, store
	}

	reg := kol.New(cfg, kolStore)
	cache := evidence.NewCache(cfg, persister)
	fetch := fetcher.New(cfg)
	engine := conviction.New(cfg)

	var sinks []publisher.Sink
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, publisher.NewWebhookSink(cfg.NotifyWebhookURL))
	}
	if cfg.NATSURL != "" {
		ns, err := publisher.NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect failed")
		}
		defer ns.Close()
		sinks = append(sinks, ns)
	}
	if len(sinks) == 0 {
		log.Warn().Msg("no notification sink configured, signals land in logs and DB only")
	}
	pub := publisher.New(sinks...)

	tr := tracker.New(cfg, cache, engine, fetch, reg, pub, sigStore)
	srv := ingress.New(cfg, tr, cache, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	c.AddFunc("@every 1m", func() {
		cache.Prune()
		if store != nil {
			if n, err := store.PruneMentions(time.Now().Add(-cfg.MentionTTL)); err == nil && n > 0 {
				log.Debug().Int64("rows", n).Msg("🧹 old mentions pruned")
			}
		}
	})
	c.AddFunc("@every 10m", func() { tr.UpdateOutcomes(ctx) })
	c.AddFunc("@every 30m", func() {
		if err := reg.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("⚠️ KOL stats refresh failed")
		}
	})
	c.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return tr.Run(gctx) })

	printSummary(cfg, reg, sinks)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("run error")
	}

	log.Info().Msg("draining...")
	<-c.Stop().Done()
	tr.Close()
	log.Info().Msg("goodbye 👋")
}

func printSummary(cfg *config.Config, reg *kol.Registry, sinks []publisher.Sink) {
	title := color.New(color.FgHiCyan, color.Bold)
	fmt.Println("\n" + strings.Repeat("═", 60))
	title.Println("  ⚡ CONVICTION ENGINE — RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  Listen:      %s\n", cfg.HTTPAddr)
	fmt.Printf("  Thresholds:  %d pre-grad / %d post-grad (mid gate %d)\n",
		cfg.ThresholdPreGrad, cfg.ThresholdPostGrad, cfg.MidGate)
	fmt.Printf("  Liquidity:   $%.0f floor\n", cfg.LiquidityFloorUSD)

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	sinkLine := color.RedString("none")
	if len(names) > 0 {
		sinkLine = color.GreenString(strings.Join(names, ", "))
	}
	fmt.Printf("  Sinks:       %s\n", sinkLine)

	dbLine := color.RedString("disabled")
	if cfg.DBPath != "" {
		dbLine = color.GreenString(cfg.DBPath)
	}
	fmt.Printf("  Persistence: %s\n", dbLine)

	if wallets := reg.All(); len(wallets) > 0 {
		fmt.Printf("\n  Tracked KOL wallets (%d):\n", len(wallets))
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Wallet", "Name", "Tier"})
		table.SetBorder(false)
		for _, w := range wallets {
			table.Append([]string{token.Abbrev(w.Address), w.Name, string(w.Tier)})
		}
		table.Render()
	} else {
		fmt.Println("  No KOL wallets configured — chat calls and graduations only.")
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
