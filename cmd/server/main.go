package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-packager/internal/chunk"
	"hls-packager/internal/media"
	"hls-packager/internal/orchestrator"
	"hls-packager/internal/platform/config"
	"hls-packager/internal/platform/httpx"
	"hls-packager/internal/platform/logger"
	"hls-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const killGrace = 5 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	repo := orchestrator.NewInMemoryRepository()
	svc := orchestrator.NewService(repo,
		media.NewFFprobe(cfg.FFprobePath),
		media.NewFFmpeg(cfg.FFmpegPath),
		orchestrator.Options{
			OutputRoot:    cfg.HLSDir,
			PublicPrefix:  "/hls",
			PublicBaseURL: cfg.PublicBaseURL,
			Concurrency:   cfg.EncodeConcurrency,
			Encrypt:       cfg.Encrypt,
		}, log, met)
	h := orchestrator.NewHandler(svc, log, met, orchestrator.HandlerConfig{
		UploadDir:       cfg.UploadDir,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadURLPrefix: "/uploads",
	})

	reasm := chunk.New(chunk.Options{
		StagingRoot: cfg.ChunkDir,
		MergeDir:    cfg.MergeDir,
		Concurrency: cfg.MergeConcurrency,
	}, log, met)
	ch := chunk.NewHandler(reasm, log, cfg.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(httpx.CORS(cfg.CORSOrigins, true))

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveTranscodes(svc.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Post("/video/upload", h.UploadVideo)
	r.Get("/videos/{asset_id}", h.GetAsset)
	r.Post("/upload", h.UploadImage)
	r.Post("/upload/large-file", ch.UploadChunk)
	r.Get("/merge/file", ch.MergeFile)
	r.Get("/merge/status", ch.MergeStatus)
	r.Handle("/hls/*", http.StripPrefix("/hls", httpx.StaticHLS(cfg.HLSDir)))
	r.Handle("/uploads/merge/*", http.StripPrefix("/uploads/merge", httpx.StaticFiles(cfg.MergeDir)))
	r.Handle("/uploads/*", http.StripPrefix("/uploads", httpx.StaticFiles(cfg.UploadDir)))

	addr := ":" + cfg.Port
	// Request contexts derive from baseCtx so that running encodes are killed
	// when draining times out.
	baseCtx, stopRequests := context.WithCancel(context.Background())
	defer stopRequests()
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go pruneLoop(janitorCtx, cfg.StateRetention, repo, reasm, log)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"hls_dir", cfg.HLSDir,
		"encode_concurrency", cfg.EncodeConcurrency,
		"merge_concurrency", cfg.MergeConcurrency,
		"encrypt", cfg.Encrypt,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		// ffmpeg runs in its own process group and outlives us unless the
		// request contexts are canceled and the encodes have unwound.
		stopRequests()
		waitIdle(svc, killGrace)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// pruneLoop forgets finished assets and merges once they are older than
// retention. A non-positive retention keeps everything.
func pruneLoop(ctx context.Context, retention time.Duration, repo orchestrator.Repository, reasm *chunk.Reassembler, log *slog.Logger) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(min(retention, time.Minute))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			cutoff := now.Add(-retention)
			assets, merges := repo.Prune(cutoff), reasm.Prune(cutoff)
			if assets+merges > 0 {
				log.Debug("state pruned", "assets", assets, "merges", merges)
			}
		}
	}
}

func waitIdle(svc *orchestrator.Service, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for svc.ActiveCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}
