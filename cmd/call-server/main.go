package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PPASSD/ai-call-server/pkg/carrier"
	"github.com/PPASSD/ai-call-server/pkg/config"
	"github.com/PPASSD/ai-call-server/pkg/reply"
	"github.com/PPASSD/ai-call-server/pkg/server"
	"github.com/PPASSD/ai-call-server/pkg/session"
	"github.com/PPASSD/ai-call-server/pkg/voice/stt"
	"github.com/PPASSD/ai-call-server/pkg/voice/tts"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	newServer    func(server.Options) (*server.Server, error)
	newMetrics   func() *session.Metrics
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		newServer:  server.New,
		newMetrics: func() *session.Metrics {
			return session.NewMetrics(prometheus.DefaultRegisterer)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	calls, err := carrier.NewClient(carrier.ClientConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		BaseURL:    cfg.TwilioBaseURL,
	})
	if err != nil {
		return fmt.Errorf("carrier client: %w", err)
	}

	generator, err := reply.NewOpenAIGenerator(reply.GeneratorConfig{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("reply generator: %w", err)
	}

	var metrics *session.Metrics
	if deps.newMetrics != nil {
		metrics = deps.newMetrics()
	}

	srv, err := deps.newServer(server.Options{
		Config:    cfg,
		Calls:     calls,
		STT:       stt.NewDeepgram(cfg.DeepgramAPIKey),
		TTS:       tts.NewElevenLabs(cfg.ElevenLabsAPIKey),
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	logger.Info("starting call server",
		"addr", cfg.Addr,
		"public_host", cfg.PublicHost,
		"barge_in", cfg.BargeIn,
		"memory_enabled", cfg.MemoryEnabled)

	listenErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "call-server: load .env: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "call-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
