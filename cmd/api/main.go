package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/doorbell-lab/backend/internal/config"
	"github.com/zhouzirui/doorbell-lab/backend/internal/handler"
	"github.com/zhouzirui/doorbell-lab/backend/internal/handler/live"
	"github.com/zhouzirui/doorbell-lab/backend/internal/observability"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/mirror"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var collector *observability.LabCollector
	if cfg.Metrics.Enabled {
		collector, err = observability.NewLabCollector(prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatalf("failed to register metrics: %v", err)
		}
	}

	// Simulation core
	store := simulation.NewStore()
	timings := simulation.DefaultTimings().Scaled(cfg.Simulation.TimeScale)
	lab := simulation.NewChoreographer(store, simulation.NewTimerScheduler(), timings)
	if collector != nil {
		lab.AddObserver(collector)
	}

	hub := live.NewHub(collector)
	store.Subscribe(hub.Broadcast)

	var mirrorDone chan struct{}
	var mirrorStatus handler.MirrorStatus
	if cfg.Mirror.Enabled() {
		pub, err := mirror.NewRealPublisher(cfg.Mirror)
		if err != nil {
			log.Printf("warning: failed to connect MQTT mirror: %v", err)
		} else {
			m := mirror.New(pub, cfg.Mirror.Topic, collector)
			mirrorStatus = m
			lab.AddObserver(m)
			store.Subscribe(m.StateChanged)
			m.StateChanged(store.Snapshot())

			mirrorDone = make(chan struct{})
			go func() {
				defer close(mirrorDone)
				m.Run(ctx)
			}()
			log.Printf("MQTT mirror publishing to %s under %s", cfg.Mirror.Broker, cfg.Mirror.Topic)
		}
	}

	// Assistant
	var responder ai.Responder
	if cfg.AI.Enabled() {
		responder, err = ai.NewResponder(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 助手将返回兜底回复")
		} else {
			log.Printf("AI service initialized successfully (provider=%s)", cfg.AI.Provider)
		}
	} else {
		log.Println("AI 凭证未配置，助手将返回兜底回复")
	}

	aiOpts := []ai.Option{ai.WithTimeout(cfg.AI.Timeout)}
	if collector != nil {
		aiOpts = append(aiOpts, ai.WithRecorder(collector))
	}
	assistant := ai.NewService(responder, aiOpts...)

	router := handler.NewRouter(handler.Dependencies{
		Lab:          lab,
		Hub:          hub,
		Chat:         chat.NewService(),
		Assistant:    assistant,
		HistoryLimit: cfg.AI.HistoryLimit,
		Metrics:      collector,
		Mirror:       mirrorStatus,
	})

	startServer(ctx, cfg.Server, router)

	lab.Reset()
	if mirrorDone != nil {
		<-mirrorDone
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Doorbell lab backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
