package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/watcher"
)

var (
	server   = flag.String("server", "http://localhost:8080", "API server base URL")
	jobID    = flag.Int64("job", 0, "Job ID to watch")
	interval = flag.Int("interval", 0, "Poll interval in seconds (0 = config default)")
	attempts = flag.Int("attempts", 0, "Max poll attempts (0 = config default)")
)

func main() {
	flag.Parse()

	if *jobID <= 0 {
		log.Fatal("Usage: watch -job <id> [-server http://host:port]")
	}

	cfg := &config.WatcherConfig{
		IntervalSeconds: *interval,
		MaxAttempts:     *attempts,
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Interrupted, stopping...")
		cancel()
	}()

	log.Printf("👀 Watching job %d on %s (interval %ds, max %d attempts)...",
		*jobID, *server, cfg.IntervalSeconds, cfg.MaxAttempts)

	w := watcher.New(watcher.NewHTTPFetcher(*server), cfg)
	session := w.Watch(ctx, *jobID)

	start := time.Now()
	for snapshot := range session.Snapshots() {
		price := "-"
		if snapshot.Price != nil {
			price = priceString(*snapshot.Price)
		}
		log.Printf("  [v%d] status=%s slice=%s price=%s",
			snapshot.Version, snapshot.Status, snapshot.SliceStatus, price)
	}

	result, err := session.Result()
	if err != nil {
		log.Fatalf("Watch aborted: %v", err)
	}

	elapsed := time.Since(start).Round(time.Second)
	switch result.Outcome {
	case watcher.OutcomeCompleted:
		log.Printf("✅ Slicing completed after %d attempts (%s)", result.Attempts, elapsed)
		if result.Snapshot.Price != nil {
			log.Printf("   Quote: %s", priceString(*result.Snapshot.Price))
		}
	case watcher.OutcomeFailed:
		log.Printf("❌ Slicing failed: %s", result.Snapshot.ErrorMessage)
		os.Exit(1)
	case watcher.OutcomeTimeout:
		log.Printf("⚠️  Gave up after %d attempts (%s), job may still be in progress", result.Attempts, elapsed)
		os.Exit(2)
	}
}

func priceString(p float64) string {
	return fmt.Sprintf("¥%.2f", p)
}
