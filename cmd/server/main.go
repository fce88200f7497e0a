// Command server wires the banking workflow engine's stores,
// classifier, downstream client, graph, and facade into a running
// HTTP server -- the connective tissue every other package here is
// built to be assembled by, mirroring the way the framework's own
// examples/ each wire one graph end to end.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/banking"
	"github.com/ledgerflow/workflow/classifier"
	"github.com/ledgerflow/workflow/classifier/model/anthropic"
	"github.com/ledgerflow/workflow/config"
	"github.com/ledgerflow/workflow/downstream"
	"github.com/ledgerflow/workflow/facade"
	"github.com/ledgerflow/workflow/graph"
	"github.com/ledgerflow/workflow/graph/emit"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
	"github.com/ledgerflow/workflow/session"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (env WORKFLOW_* overrides always apply)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("server: load config: %v", err)
	}

	checkpoints, sessions, approvals, closeStores, err := openStores(cfg)
	if err != nil {
		log.Fatalf("server: open stores: %v", err)
	}
	defer closeStores()

	intentClassifier := newClassifier()
	downstreamClient := downstream.NewHTTPClient(cfg.Downstream.BaseURL, cfg.DownstreamTimeout())
	gate := hil.New[banking.State](approvals, sessions, checkpoints, banking.Accessors(cfg.HIL.Threshold), cfg.HIL.AutoApprove)

	deps := &banking.Deps{
		Classifier:          intentClassifier,
		Downstream:          downstreamClient,
		Gate:                gate,
		Threshold:           cfg.HIL.Threshold,
		ConfidenceThreshold: cfg.Confidence.Threshold,
	}

	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	emitter := emit.NewLogEmitter(os.Stdout, true)
	engine, err := banking.New(checkpoints, emitter, deps, graph.WithMetrics(metrics), graph.WithDefaultNodeTimeout(cfg.DownstreamTimeout()))
	if err != nil {
		log.Fatalf("server: build banking graph: %v", err)
	}

	f := facade.New(engine, gate, sessions, approvals, checkpoints)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      facade.NewServer(f),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DownstreamTimeout() + 15*time.Second,
	}

	go func() {
		log.Printf("server: listening on %s (storage backend=%s)", *addr, cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown: %v", err)
	}
}

// newClassifier builds an Anthropic-backed classifier when
// ANTHROPIC_API_KEY is set, falling back to the rule-based classifier
// otherwise -- the same fallback the classifier package itself applies
// on a call or parse error, so a misconfigured deployment degrades
// instead of refusing to start.
func newClassifier() classifier.Classifier {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return classifier.NewRuleBased()
	}
	modelName := os.Getenv("ANTHROPIC_MODEL")
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}
	return classifier.NewLLMBacked(anthropic.NewChatModel(apiKey, modelName), classifier.NewRuleBased())
}

func openStores(cfg config.Config) (store.CheckpointStore[banking.State], session.Store, approval.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "shared-cache":
		checkpoints, err := store.NewMySQLStore[banking.State](cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		sessions, err := session.NewMySQLStore(cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		approvals, err := approval.NewMySQLStore(cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return checkpoints, sessions, approvals, closerFor(checkpoints, sessions, approvals), nil
	default:
		checkpoints, err := store.NewSQLiteStore[banking.State](cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		sessions, err := session.NewSQLiteStore(cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		approvals, err := approval.NewSQLiteStore(cfg.Storage.PathOrURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return checkpoints, sessions, approvals, closerFor(checkpoints, sessions, approvals), nil
	}
}

func closerFor(checkpoints store.CheckpointStore[banking.State], sessions session.Store, approvals approval.Store) func() {
	return func() {
		if err := checkpoints.Close(); err != nil {
			log.Printf("server: close checkpoint store: %v", err)
		}
		if err := sessions.Close(); err != nil {
			log.Printf("server: close session store: %v", err)
		}
		if err := approvals.Close(); err != nil {
			log.Printf("server: close approval store: %v", err)
		}
	}
}
