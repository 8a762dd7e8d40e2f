package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callpilot/internal/assist"
	"callpilot/internal/auth"
	"callpilot/internal/calls"
	"callpilot/internal/config"
	"callpilot/internal/conversation"
	"callpilot/internal/errlog"
	"callpilot/internal/httpapi"
	"callpilot/internal/monitor"
	"callpilot/internal/notify"
	"callpilot/internal/telephony"
	"callpilot/internal/voice"
	"callpilot/pkg/logger"
	"callpilot/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reporter := errlog.NewReporter(log)
	provider := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, 10*time.Second)
	engine := conversation.NewEngine(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.RequestTimeout, cfg.Calls.MaxHumanTurns, reporter)
	synth := voice.NewSynthesizer(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.VoiceID, cfg.ElevenLabs.RequestTimeout, reporter)
	clips := voice.NewCache(rdb)
	notifier := notify.NewNotifier(rdb, log)
	assistSvc := assist.NewService(assist.NewPostgresRepo(db), log)

	callSvc := calls.NewService(calls.ServiceDeps{
		Repo:     calls.NewPostgresRepo(db),
		Provider: provider,
		Engine:   engine,
		Synth:    synth,
		Clips:    clips,
		Desk:     assistSvc,
		Notifier: notifier,
		Slots:    calls.NewRedisSlotLimiter(rdb, cfg.Calls.MaxActive),
		Reporter: reporter,
		Log:      log,
		Config:   cfg,
	})

	mon := monitor.New(callSvc, provider, log, cfg.Calls.SweepInterval, cfg.Calls.ReconcileInterval)
	go mon.Run(rootCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Auth:           authManager,
			OperatorAPIKey: cfg.Auth.OperatorAPIKey,
			Calls:          callSvc,
			Assist:         assistSvc,
			Clips:          clips,
			Reporter:       reporter,
		},
		status: telephony.StatusWebhookHandler{Orchestrator: callSvc},
		gather: telephony.GatherWebhookHandler{
			Orchestrator:      callSvc,
			FallbackActionURL: cfg.GatherCallbackURL(),
		},
		stream: notify.NewStreamHandler(rdb, callSvc, log),
		authMW: auth.RequireAccessToken(authManager),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
