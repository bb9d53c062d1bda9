package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/config"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/httpapi"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/logger"
	"github.com/suPer8Hu/companion-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/companion-chat/internal/store/redisstore"
	"github.com/suPer8Hu/companion-chat/internal/tracing"
)

const serviceName = "companion-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, log, tracing.Options{Enabled: cfg.TracingEnabled, ServiceName: serviceName})
	if err != nil {
		log.Fatal("tracing setup failed", "error", err)
	}

	gdb := db.Connect(cfg.DBDSN)
	if err := chat.AutoMigrate(gdb); err != nil {
		log.Fatal("migrate failed", "error", err)
	}
	repo := chat.NewRepo(gdb)

	// Provider registry (AI_PROVIDER picks one)
	reg := ai.NewRegistry()
	assistant := ai.NewAssistantRelay(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	reg.Register("assistant", func(context.Context) (ai.Relay, error) {
		if cfg.OpenAIAPIKey == "" || cfg.OpenAIAssistantID == "" {
			return nil, errors.New("assistant provider needs OPENAI_API_KEY and OPENAI_ASSISTANT_ID")
		}
		return assistant, nil
	})
	reg.Register("openai", func(context.Context) (ai.Relay, error) {
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("openai provider needs OPENAI_API_KEY")
		}
		return ai.NewCompletionRelay(ai.CompletionOptions{
			Name:    "openai",
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}), nil
	})
	reg.Register("openrouter", func(context.Context) (ai.Relay, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("openrouter provider needs OPENROUTER_API_KEY")
		}
		return ai.NewCompletionRelay(ai.CompletionOptions{
			Name:    "openrouter",
			APIKey:  cfg.OpenRouterAPIKey,
			BaseURL: cfg.OpenRouterBaseURL,
			Model:   cfg.OpenRouterModel,
			Headers: map[string]string{"X-Title": serviceName},
		}), nil
	})
	reg.Register("ollama", func(context.Context) (ai.Relay, error) {
		return ai.NewOllamaRelay(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	})

	relay, err := reg.Get(ctx, cfg.AIProvider)
	if err != nil {
		log.Fatal("ai provider unavailable", "provider", cfg.AIProvider, "error", err)
	}

	// assistant mode keeps history in the provider thread
	historyWindow := cfg.ChatContextWindowSize
	if cfg.AIProvider == "assistant" {
		historyWindow = 0
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if a, err := assistant.RetrieveAssistant(vctx, cfg.OpenAIAssistantID); err != nil {
			log.Warn("assistant validation failed", "assistant_id", cfg.OpenAIAssistantID, "error", err)
		} else {
			log.Info("assistant ready", "assistant_id", a.ID, "model", a.Model)
		}
		cancel()
	}

	var titler ai.Titler
	if cfg.OpenAIAPIKey != "" {
		titler = ai.NewOpenAITitler(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITitleModel)
	}

	var threads chat.ThreadStore = chat.NewMemoryThreadStore()
	if cfg.RedisAddr != "" {
		rs, err := redisstore.NewThreadStore(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ThreadTTL,
		})
		if err != nil {
			log.Fatal("redis connect failed", "addr", cfg.RedisAddr, "error", err)
		}
		defer rs.Close()
		threads = rs
	}

	var usage chat.UsageSink
	switch cfg.TelemetrySink {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher failed", "error", err)
		}
		defer pub.Close()
		usage = pub
	case "off", "none":
	default:
		usage = chat.NewDBUsageSink(repo)
	}

	hasher := auth.NewTokenHasher(cfg.AnonTokenSalt)
	resolver := chat.NewResolver(auth.NewVerifier(cfg.JWTSecret, "authenticated"), hasher, repo, log)
	svc := chat.NewService(chat.Deps{
		Repo:     repo,
		Resolver: resolver,
		Registrar: chat.NewRegistrar(repo, hasher, log, chat.RegistrarOptions{
			TokenTTL:        cfg.AnonTokenTTL,
			DefaultLanguage: cfg.DefaultLang,
			DefaultTimezone: cfg.DefaultTZ,
		}),
		Writer:  chat.NewWriter(repo, titler, usage, log),
		Relay:   relay,
		Threads: threads,
		Log:     log,
	}, chat.ServiceOptions{
		AssistantID:   cfg.OpenAIAssistantID,
		HistoryWindow: historyWindow,
	})

	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	tracedName := ""
	if cfg.TracingEnabled {
		tracedName = serviceName
	}
	r := httpapi.NewRouter(httpapi.RouterConfig{
		Handler:     handlers.NewHandler(svc, log, cfg.Heartbeat),
		Resolver:    resolver,
		Log:         log,
		CORSOrigins: cfg.CORSOrigins,
		ServiceName: tracedName,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		return shutdownTracing(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
