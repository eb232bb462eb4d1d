// Command streamgated runs the relay daemon: WebSocket and SSE stream
// transports in front of configured chunk producers.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamgate/streamgate/internal/audit"
	auditasync "github.com/streamgate/streamgate/internal/audit/async"
	auditpg "github.com/streamgate/streamgate/internal/audit/postgres"
	auditsqlite "github.com/streamgate/streamgate/internal/audit/sqlite"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/httpserver"
	"github.com/streamgate/streamgate/internal/logging"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/producer/loopback"
	produceropenai "github.com/streamgate/streamgate/internal/producer/openai"
	producerrouter "github.com/streamgate/streamgate/internal/producer/router"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024)
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout for foreground runs.
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[streamgated] ")

	auditStore, err := openAuditStore(cfg)
	if err != nil {
		log.Fatalf("open audit store: %v", err)
	}
	if auditStore != nil {
		defer auditStore.Close()
	}

	prod, err := buildRouter(cfg)
	if err != nil {
		log.Fatalf("build producer router: %v", err)
	}

	srv := httpserver.NewServer(prod, metrics.NewCollector(), auditStore,
		log.New(log.Writer(), "[streamgated/http] ", log.LstdFlags|log.Lmicroseconds),
		httpserver.Config{
			HeartbeatInterval: cfg.HeartbeatInterval,
			IdleTimeout:       cfg.IdleTimeout,
			MaxStreams:        cfg.MaxStreamsPerConn,
		})

	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		log.Printf("relay listening on %s env=%s", cfg.ListenAddr, cfg.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigs:
			log.Printf("received %s, shutting down", sig)
		case <-ctx.Done():
			return ctx.Err()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("relay exited: %v", err)
	}
}

// openAuditStore builds the configured audit backend wrapped with async
// batching, or nil when auditing is off.
func openAuditStore(cfg config.RelayConfig) (audit.Store, error) {
	var store audit.Store
	switch cfg.AuditDriver {
	case "off":
		return nil, nil
	case "postgres":
		pg, err := auditpg.New(cfg.AuditDSN, cfg.AuditMaxOpenConns, cfg.AuditMaxIdleConns, 30*time.Minute, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		sq, err := auditsqlite.New(cfg.AuditPath)
		if err != nil {
			return nil, err
		}
		store = sq
	}
	return auditasync.New(store, auditasync.Config{
		Logger: log.New(log.Writer(), "[streamgated/audit] ", log.LstdFlags|log.Lmicroseconds),
	}), nil
}

// buildRouter registers the available producers and applies routing rules
// from config, inline first and then the optional rules file.
func buildRouter(cfg config.RelayConfig) (*producerrouter.Router, error) {
	r := producerrouter.New()

	lb := loopback.New()
	if err := r.Register("loopback", lb); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		up, err := produceropenai.New(produceropenai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := r.Register("openai", up); err != nil {
			return nil, err
		}
	}

	rules := producerrouter.ParseRules(cfg.Routes)
	if strings.TrimSpace(cfg.RoutesFile) != "" {
		fileRules, err := producerrouter.LoadRules(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	for _, rule := range rules {
		if err := r.AddRule(rule.Pattern, rule.Producer); err != nil {
			log.Printf("skipping route %s=>%s: %v", rule.Pattern, rule.Producer, err)
		}
	}

	switch cfg.FallbackProducer {
	case "", "loopback":
		r.SetFallback(lb)
	default:
		// The fallback must be a registered producer; fail fast otherwise.
		if err := r.AddRule("*", cfg.FallbackProducer); err != nil {
			return nil, err
		}
	}
	return r, nil
}
