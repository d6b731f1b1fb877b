// Package run implements the "pulse run" command: a demo agent that keeps a
// timer running and logs every boundary it receives.
package run

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/pulse/internal/config"
	"github.com/coral-mesh/pulse/internal/errors"
	"github.com/coral-mesh/pulse/internal/logging"
	"github.com/coral-mesh/pulse/internal/safe"
	"github.com/coral-mesh/pulse/internal/timer"
)

// HTTP server timeouts for the metrics endpoint.
const (
	metricsReadTimeout  = 5 * time.Second
	metricsWriteTimeout = 10 * time.Second
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		configFile  string
		listeners   int
		ticks       int
		metricsAddr string
		agentID     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent driven by the 10-second boundary timer",
		Long: `Run an agent that receives a notification at every 10-second wall-clock
boundary (…:00, …:10, …:20) and logs it.

The agent stops after --ticks boundaries, or on SIGINT/SIGTERM. On shutdown
all listeners are dropped and the timer exits at the next boundary.

Configuration sources (in order of precedence):
1. Flags
2. Environment variables (PULSE_*)
3. Config file (--config)
4. Defaults

Environment Variables:
  PULSE_LOG_LEVEL         - Logging level (trace, debug, info, warn, error)
  PULSE_LOG_FORMAT        - Logging format (pretty, json)
  PULSE_METRICS_ENABLED   - Serve Prometheus metrics
  PULSE_METRICS_ADDR      - Metrics listen address
  PULSE_AGENT_ID          - Agent identifier (default: random UUID)
  PULSE_LISTENERS         - Number of listeners to attach
  PULSE_TICKS             - Stop after this many boundaries
  PULSE_SHUTDOWN_TIMEOUT  - Max wait for the timer to stop

Examples:
  # Run until interrupted
  pulse run

  # Three boundaries with metrics on :9464
  pulse run --ticks 3 --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("listeners") {
				cfg.Agent.Listeners = listeners
			}
			if flags.Changed("ticks") {
				cfg.Agent.Ticks = ticks
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Addr = metricsAddr
			}
			if flags.Changed("agent-id") {
				cfg.Agent.ID = agentID
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := logging.NewWithComponent(cfg.LoggingConfig(), "agent")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, cfg, logger, timer.SystemClock{})
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to configuration file")
	cmd.Flags().IntVar(&listeners, "listeners", 1, "Number of listeners to attach")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "Stop after this many boundaries (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent identifier (default: random UUID)")
	errors.Must(cmd.MarkFlagFilename("config", "yaml", "yml"), "failed to mark config flag")

	return cmd
}

// Run starts a timer on clock, attaches the configured listeners and blocks
// until ctx is done or the configured number of boundaries has been seen.
// It then drops all listeners and waits for the timer goroutine to exit.
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, clock timer.Clock) error {
	agentID := cfg.Agent.ID
	if agentID == "" {
		agentID = uuid.NewString()
	}
	logger = logger.With().Str("agent_id", agentID).Logger()

	reg := prometheus.NewRegistry()
	metrics, err := timer.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register timer metrics: %w", err)
	}

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics.Addr, reg)
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer errors.DeferClose(logger, srv, "failed to close metrics server")
	}

	tm, err := timer.New(
		timer.WithClock(clock),
		timer.WithLogger(logger),
		timer.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to start timer: %w", err)
	}

	// control counts boundaries for --ticks; it is attached like any other listener.
	control := make(chan uint64, 1)
	if err := tm.AttachListener(control); err != nil {
		return err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < cfg.Agent.Listeners; i++ {
		ch := make(chan uint64, cfg.Agent.ListenerBuffer)
		if err := tm.AttachListener(ch); err != nil {
			close(done)
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			consume(logger.With().Int("listener", id).Logger(), ch, done)
		}(i)
	}

	logger.Info().
		Int("listeners", listenerCount(logger, tm)).
		Int("ticks", cfg.Agent.Ticks).
		Msg("Agent started - waiting for boundaries")

	runErr := waitForTicks(ctx, logger, tm, control, cfg.Agent.Ticks)

	close(done)
	wg.Wait()

	if runErr != nil {
		dropAfterFailure(logger, tm)
		return runErr
	}
	return shutdown(logger, tm, cfg.Agent.ShutdownTimeout)
}

// listenerSet is the part of *timer.Timer that manages listeners.
type listenerSet interface {
	ListenerCount() (int, error)
	DropListeners() error
}

func listenerCount(logger zerolog.Logger, ls listenerSet) int {
	n, err := ls.ListenerCount()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count listeners")
	}
	return n
}

// dropAfterFailure releases listeners once Run is already returning an error.
// A failure here is logged so the original error stays the result.
func dropAfterFailure(logger zerolog.Logger, ls listenerSet) {
	if err := ls.DropListeners(); err != nil {
		logger.Warn().Err(err).Msg("Failed to drop listeners after agent failure")
	}
}

func waitForTicks(ctx context.Context, logger zerolog.Logger, tm *timer.Timer, control <-chan uint64, limit int) error {
	seen := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutdown requested - stopping agent")
			return nil
		case <-tm.Done():
			return fmt.Errorf("timer stopped unexpectedly: %w", tm.Err())
		case ts := <-control:
			seen++
			logger.Info().
				Uint64("boundary", ts).
				Int("seen", seen).
				Msg("Boundary reached")
			if limit > 0 && seen >= limit {
				return nil
			}
		}
	}
}

func consume(logger zerolog.Logger, ch <-chan uint64, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ts := <-ch:
			sec, _ := safe.Uint64ToInt64(ts)
			logger.Debug().
				Uint64("boundary", ts).
				Time("at", time.Unix(sec, 0).UTC()).
				Msg("Listener received boundary")
		}
	}
}

func shutdown(logger zerolog.Logger, tm *timer.Timer, timeout time.Duration) error {
	if err := tm.DropListeners(); err != nil {
		return fmt.Errorf("failed to stop timer: %w", err)
	}

	select {
	case <-tm.Done():
	case <-time.After(timeout):
		return fmt.Errorf("timer did not stop within %s", timeout)
	}
	if err := tm.Err(); err != nil {
		return fmt.Errorf("timer stopped with error: %w", err)
	}

	logger.Info().Msg("Agent stopped")
	return nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  metricsReadTimeout,
		WriteTimeout: metricsWriteTimeout,
	}
}
