package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"dofus-hdv/internal/capture"
	"dofus-hdv/internal/config"
	"dofus-hdv/internal/consumer"
	"dofus-hdv/internal/db"
	"dofus-hdv/internal/health"
	"dofus-hdv/internal/logger"
	"dofus-hdv/internal/protocol"
	"dofus-hdv/internal/queue"
	"dofus-hdv/internal/scheduler"
	"dofus-hdv/internal/service"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "JSON config file (defaults apply when empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger.Banner(version)
	logger.SetDebug(*debug)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("CFG", err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}

	database, err := db.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	if n, err := database.PruneOldEntries(cfg.Store.RetentionDays); err != nil {
		logger.Warn("DB", fmt.Sprintf("prune failed: %v", err))
	} else if n > 0 {
		logger.Info("DB", fmt.Sprintf("pruned %d entries older than %d days", n, cfg.Store.RetentionDays))
	}

	p := newPipeline(cfg, database)
	if err := p.Start(); err != nil {
		logger.Error("PIPE", fmt.Sprintf("startup failed: %v", err))
		os.Exit(1)
	}

	logger.Section("Running")
	logger.Stats("capture", cfg.Capture.Enabled)
	logger.Stats("port", cfg.Capture.Port)
	logger.Stats("queue capacity", cfg.Queue.Capacity)
	logger.Stats("health listener", cfg.Store.HealthListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Section("Shutting down")
	p.Stop()
}

// Pipeline brackets every long-running task of the capture-to-persistence
// path: Start spawns them, Stop tears them down in dependency order.
type Pipeline struct {
	cfg   *config.Config
	db    *db.DB
	q     *queue.Queue
	cap   *capture.Capture
	svc   *service.PriceService
	cons  *consumer.Consumer
	sched *scheduler.Scheduler
	srv   *http.Server

	cancel context.CancelFunc
	g      *errgroup.Group
}

func newPipeline(cfg *config.Config, database *db.DB) *Pipeline {
	parser := protocol.NewParser(protocol.Options{
		PriceListID:           uint16(cfg.Protocol.PriceListID),
		CategoryDescriptionID: uint16(cfg.Protocol.CategoryDescriptionID),
		CompressedContainerID: uint16(cfg.Protocol.CompressedContainerID),
		MaxInflateRatio:       cfg.Protocol.MaxInflateRatio,
	})
	q := queue.New(cfg.Queue.Capacity)
	svc := service.New(database, parser, cfg)
	cons := consumer.New(q, svc,
		cfg.Consumer.BatchSize,
		time.Duration(cfg.Consumer.PollTimeoutMs)*time.Millisecond,
		cfg.Consumer.Breaker.Threshold,
		time.Duration(cfg.Consumer.Breaker.CooldownMs)*time.Millisecond)
	sched := scheduler.New(cons, q,
		time.Duration(cfg.Processing.IntervalMs)*time.Millisecond,
		cfg.Processing.BatchMode,
		cfg.Processing.QueueWarnThreshold,
		4)

	p := &Pipeline{cfg: cfg, db: database, q: q, svc: svc, cons: cons, sched: sched}
	if cfg.Capture.Enabled {
		p.cap = capture.New(cfg.Capture, q, time.Duration(cfg.Queue.OfferTimeoutMs)*time.Millisecond)
	}
	return p
}

// Start opens the capture handle, spawns the scheduler, queue monitor,
// and health listener. Fails fast when the sniffer cannot start.
func (p *Pipeline) Start() error {
	if p.cap != nil {
		if err := p.cap.Start(); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.g = g

	if p.cfg.Processing.Enabled {
		g.Go(func() error {
			p.sched.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.q.Monitor(ctx, 10*time.Second)
		return nil
	})

	checker := health.New(p.cfg.Capture.Enabled, p.cap, p.q, p.cons, p.svc.Caches())
	mux := http.NewServeMux()
	mux.Handle("/health", checker.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	p.srv = &http.Server{Addr: p.cfg.Store.HealthListenAddr, Handler: mux}
	g.Go(func() error {
		if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP", fmt.Sprintf("health listener failed: %v", err))
			return err
		}
		return nil
	})

	return nil
}

// Stop tears the pipeline down: capture first so nothing new enters the
// queue, then the scheduler, a final drain, and the health listener.
func (p *Pipeline) Stop() {
	if p.cap != nil {
		p.cap.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}

	if n, err := p.cons.Drain(); err != nil {
		logger.Warn("PIPE", fmt.Sprintf("final drain stopped after %d entries: %v", n, err))
	} else if n > 0 {
		logger.Success("PIPE", fmt.Sprintf("final drain persisted %d entries", n))
	}
	p.sched.Stop()

	if p.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		p.srv.Shutdown(ctx)
		cancel()
	}
	if p.g != nil {
		p.g.Wait()
	}
	logger.Success("PIPE", "pipeline stopped")
}
