// photoflowd is the background worker daemon of the gallery: it owns the job
// runner, the external trigger endpoint and the operator API. The web
// application only ever enqueues rows; this process does everything slow.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gallerium/photoflow"
	"github.com/gallerium/photoflow/mediajobs"
)

type config struct {
	// DSN must include parseTime=true so DATETIME columns scan into time.Time.
	DSN         string `env:"PHOTOFLOW_DSN" env-default:"root:root@tcp(127.0.0.1:3306)/gallery?parseTime=true&charset=utf8mb4"`
	ListenAddr  string `env:"PHOTOFLOW_LISTEN_ADDR" env-default:":8090"`
	MetricsAddr string `env:"PHOTOFLOW_METRICS_ADDR" env-default:":9091"`

	BatchSize      int           `env:"PHOTOFLOW_BATCH_SIZE" env-default:"10"`
	PollInterval   time.Duration `env:"PHOTOFLOW_POLL_INTERVAL" env-default:"5s"`
	MaxConcurrency int           `env:"PHOTOFLOW_MAX_CONCURRENCY" env-default:"4"`
	JobTimeout     time.Duration `env:"PHOTOFLOW_JOB_TIMEOUT" env-default:"2m"`
	LockTimeout    time.Duration `env:"PHOTOFLOW_LOCK_TIMEOUT" env-default:"15m"`

	TriggerSecret string `env:"PHOTOFLOW_TRIGGER_SECRET" env-required:"true"`
	AdminSecret   string `env:"PHOTOFLOW_ADMIN_SECRET" env-required:"true"`

	BlobRoot      string `env:"PHOTOFLOW_BLOB_ROOT" env-default:"./data/originals"`
	DerivativeDir string `env:"PHOTOFLOW_DERIVATIVE_DIR" env-default:"./data/derivatives"`

	MagickBinary string `env:"PHOTOFLOW_MAGICK_BIN" env-default:"magick"`
	ExifBinary   string `env:"PHOTOFLOW_EXIFTOOL_BIN" env-default:"exiftool"`
	FaceBinary   string `env:"PHOTOFLOW_FACEDETECT_BIN" env-default:""`
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		slog.Error("cannot open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		slog.Error("cannot reach database", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := photoflow.InitSchema(ctx, db); err != nil {
		slog.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	flow := photoflow.New(photoflow.Config{
		DB:             db,
		BatchSize:      cfg.BatchSize,
		PollInterval:   cfg.PollInterval,
		MaxConcurrency: cfg.MaxConcurrency,
		JobTimeout:     cfg.JobTimeout,
		LockTimeout:    cfg.LockTimeout,
	})

	media := &mediaStore{db: db}
	deps := &mediajobs.Deps{
		Media:         media,
		Blobs:         &mediajobs.FSBlobStore{Root: cfg.BlobRoot},
		Resizer:       &mediajobs.CommandResizer{Binary: cfg.MagickBinary},
		Exif:          &mediajobs.CommandExifReader{Binary: cfg.ExifBinary},
		Faces:         &mediajobs.CommandFaceDetector{Binary: cfg.FaceBinary},
		DerivativeDir: cfg.DerivativeDir,
	}
	mediajobs.Register(flow, deps)

	flow.StartRunner(ctx)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: photoflow.NewAPIHandler(flow, photoflow.APIConfig{
			TriggerSecret: cfg.TriggerSecret,
			AdminSecret:   cfg.AdminSecret,
			Media:         media,
		}),
	}
	go func() {
		slog.Info("api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	flow.Shutdown(30 * time.Second)
	slog.Info("photoflowd stopped")
}
