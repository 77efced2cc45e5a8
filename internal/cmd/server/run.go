package serverrun

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgpkg "github.com/ssh352/artio/internal/config"
	"github.com/ssh352/artio/internal/logbuffer"
	"github.com/ssh352/artio/internal/runtime"
	logpkg "github.com/ssh352/artio/pkg/log"
)

// Options for running the engine process.
type Options struct {
	Config cfgpkg.Config

	// MetricsAddr serves prometheus metrics over HTTP when non-empty.
	MetricsAddr string

	// DataHandler receives committed replicated fragments. Defaults to a
	// no-op when followers are configured without one.
	DataHandler logbuffer.FragmentHandler
}

// Run starts the engine and blocks until ctx is cancelled or a
// termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We
	// layer a local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Build the process-wide logger: loaded configuration first, then the
	// ARTIO_LOG_* environment on top.
	logCfg := logpkg.FromEnv(&logpkg.Config{
		Level:  opts.Config.Log.Level,
		Format: opts.Config.Log.Format,
	})
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		procLogger = logpkg.NewLogger(
			logpkg.WithLevel(logpkg.InfoLevel),
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
		)
	}

	// Redirect stdlib logs (e.g. Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	handler := opts.DataHandler
	if handler == nil && len(opts.Config.Replication.Followers) > 0 {
		handler = func([]byte, int, int, logbuffer.Header) {}
	}

	registry := prometheus.NewRegistry()
	engine, err := runtime.Open(runtime.Options{
		Config:      opts.Config,
		Logger:      procLogger,
		Registry:    registry,
		DataHandler: handler,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	procLogger.Info("Starting artio engine",
		logpkg.Str("data_dir", opts.Config.DataDir),
		logpkg.Str("metrics", opts.MetricsAddr),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format))

	var metricsSrv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil &&
				err != http.ErrServerClosed && sctx.Err() == nil {
				procLogger.Error("metrics server failed", logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	return engine.Close()
}
