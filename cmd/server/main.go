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

	"townsquare.app/internal/config"
	"townsquare.app/internal/journal"
	"townsquare.app/internal/logging"
	"townsquare.app/internal/townstore"
	"townsquare.app/internal/townsvc"
	"townsquare.app/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		journalDir = flag.String("journal", "", "session journal directory (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *journalDir != "" {
		cfg.Journal.Dir = *journalDir
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	store, err := townstore.Open(cfg.Store.DSN)
	if err != nil {
		logger.Fatalw("open town store", "dsn", cfg.Store.DSN, "error", err)
	}
	defer store.Close()

	opts := []townsvc.Option{
		townsvc.WithStore(store),
		townsvc.WithCapacity(cfg.TownCapacity),
	}
	if cfg.Journal.Dir != "" {
		j := journal.NewSessionJournal(cfg.Journal.Dir)
		defer j.Close()
		opts = append(opts, townsvc.WithJournal(j))
	}

	svc := townsvc.New(logger, opts...)
	defer svc.Close()

	mux := http.NewServeMux()
	svc.Register(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(svc, logger).Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Infow("listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalw("serve", "error", err)
	}
}
