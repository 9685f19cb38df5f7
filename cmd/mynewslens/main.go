package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"mynewslens/internal/classifier"
	"mynewslens/internal/config"
	"mynewslens/internal/digest"
	"mynewslens/internal/domain"
	"mynewslens/internal/embedder"
	"mynewslens/internal/fetcher"
	"mynewslens/internal/httpapi"
	"mynewslens/internal/httpapi/auth"
	"mynewslens/internal/interestvector"
	"mynewslens/internal/jobtracker"
	"mynewslens/internal/llm"
	"mynewslens/internal/personalizer"
	"mynewslens/internal/pipeline"
	"mynewslens/internal/scheduler"
	"mynewslens/internal/scraper"
	"mynewslens/internal/store"
	"mynewslens/internal/summarizer"
)

// serverShutdownGrace and workerShutdownGrace are the minimum grace windows
// a SIGINT/SIGTERM gives in-flight work before forced exit.
const (
	serverShutdownGrace = 20 * time.Second
	workerShutdownGrace = 5 * time.Second
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to config.toml (default: $CONFIG_PATH or ./config.toml)")
		noWorker   = pflag.Bool("no-worker", false, "run the HTTP/WebSocket server only, without the ingestion scheduler")
		workerOnly = pflag.Bool("worker-only", false, "run the ingestion scheduler only, without the HTTP/WebSocket server")
		logLevel   = pflag.String("log-level", "", "override log_level from config (debug, info, warn, error)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := initLogger(cfg.LogLevel)

	jwtSecret := []byte(os.Getenv("MYNEWSLENS_JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Error("MYNEWSLENS_JWT_SECRET must be set")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database.Path, cfg.Admin.AutoMigrate)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncConfiguredUsers(ctx, st, cfg.Users, logger); err != nil {
		logger.Error("failed to sync configured users", slog.Any("error", err))
		os.Exit(1)
	}

	registry, err := llm.NewRegistry(cfg.LLM)
	if err != nil {
		logger.Error("failed to build LLM registry", slog.Any("error", err))
		os.Exit(1)
	}

	emb := embedder.New(st, registry.Embedding)
	interests := interestvector.New(st, emb)
	assembler := digest.New(st)

	var wg errgroupLike

	tracker := jobtracker.New(st)
	pipe := pipeline.New(st, tracker,
		scraper.New(cfg.Politeness),
		summarizer.New(registry.Summarization),
		classifier.New(registry.Background),
		personalizer.New(registry.Personalization),
		emb,
	)

	feedClient := politeHTTPClient(time.Duration(cfg.Politeness.FetchTimeoutSeconds) * time.Second)
	sched := scheduler.New(st, fetcher.New(feedClient), politenessDelay(cfg.Politeness), func(ctx context.Context, articleID int64) {
		pipe.ProcessArticle(ctx, articleID)
	})

	if !*noWorker {
		wg.Go(func() {
			logger.Info("scheduler started")
			sched.Run(ctx)
			logger.Info("scheduler stopped")
		})
	}

	if !*workerOnly {
		srv := httpapi.New(httpapi.Deps{
			Store:     st,
			Config:    cfg,
			Scheduler: sched,
			Pipeline:  pipe,
			Assembler: assembler,
			Chat:      registry.Interactive,
			Interests: interests,
			JWTSecret: jwtSecret,
			Logger:    logger,
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", srv.Routes())

		httpServer := &http.Server{
			Addr:              ":8080",
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		}

		wg.Go(func() {
			logger.Info("http server starting", slog.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.Any("error", err))
			}
		})

		go func() {
			<-ctx.Done()
			logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if !*noWorker {
		stopped := make(chan struct{})
		go func() {
			sched.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(workerShutdownGrace):
			logger.Warn("scheduler did not stop within grace window")
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

// errgroupLike is a minimal fire-and-join helper so main doesn't need to
// pull in golang.org/x/sync/errgroup for two best-effort background tasks
// that never return an error main needs to inspect.
type errgroupLike struct {
	tasks []chan struct{}
}

func (g *errgroupLike) Go(fn func()) {
	done := make(chan struct{})
	g.tasks = append(g.tasks, done)
	go func() {
		defer close(done)
		fn()
	}()
}

func (g *errgroupLike) Wait() {
	for _, done := range g.tasks {
		<-done
	}
}

func initLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func politenessDelay(p config.PolitenessConfig) time.Duration {
	if p.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(p.DelaySeconds * float64(time.Second))
}

func politeHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

// syncConfiguredUsers inserts any user named in config.toml's [[users]] that
// doesn't exist yet, conditionally updates display_name/password_hash for
// ones that do, and upserts each declared feed subscription — the
// declarative roster described in the configuration reference.
func syncConfiguredUsers(ctx context.Context, st *store.Store, seeds []config.UserSeed, logger *slog.Logger) error {
	for _, seed := range seeds {
		user, err := st.GetUserByUsername(ctx, seed.Username)
		var userID int64
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("look up configured user %q: %w", seed.Username, err)
			}
			passwordHash := seed.PasswordHash
			if passwordHash == "" {
				generated, genErr := auth.HashPassword(randomPlaceholderPassword())
				if genErr != nil {
					return fmt.Errorf("generate placeholder password for %q: %w", seed.Username, genErr)
				}
				passwordHash = generated
				logger.Warn("configured user has no password_hash, generated a random one; set it via /register or the config file", slog.String("username", seed.Username))
			}
			displayName := seed.DisplayName
			if displayName == "" {
				displayName = seed.Username
			}
			userID, err = st.CreateUser(ctx, &domain.User{
				Username:        seed.Username,
				DisplayName:     displayName,
				PasswordHash:    passwordHash,
				PreferredLang:   orDefault(seed.PreferredLanguage, "en"),
				ComplexityLevel: "general",
				ReadingSpeedWPM: 200,
			})
			if err != nil {
				return fmt.Errorf("create configured user %q: %w", seed.Username, err)
			}
		} else {
			userID = user.ID
			if err := st.UpdateUserProfile(ctx, userID, seed.DisplayName, seed.PasswordHash); err != nil {
				return fmt.Errorf("update configured user %q: %w", seed.Username, err)
			}
		}

		for _, uf := range seed.Feeds {
			feed, err := st.UpsertFeed(ctx, uf.URL, uf.Title)
			if err != nil {
				logger.Warn("failed to upsert configured feed, skipping", slog.String("url", uf.URL), slog.Any("error", err))
				continue
			}
			existing, err := st.ListSubscriptionsForUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("list subscriptions for %q: %w", seed.Username, err)
			}
			alreadySubscribed := false
			for _, sub := range existing {
				if sub.FeedID == feed.ID {
					alreadySubscribed = true
					break
				}
			}
			if !alreadySubscribed {
				if _, err := st.CreateSubscription(ctx, &domain.Subscription{UserID: userID, FeedID: feed.ID, Title: uf.Title, Weight: 1.0}); err != nil {
					return fmt.Errorf("subscribe %q to %q: %w", seed.Username, uf.URL, err)
				}
			}
		}
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// randomPlaceholderPassword backs an account whose config entry names no
// password_hash: the account exists (its feeds should still ingest and
// appear in digests) but cannot log in until a real password is set.
func randomPlaceholderPassword() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("unset-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
