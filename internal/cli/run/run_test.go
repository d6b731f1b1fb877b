package run

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/pulse/internal/config"
	"github.com/coral-mesh/pulse/internal/testutil"
	"github.com/coral-mesh/pulse/internal/timer"
)

// t0 is the first boundary after the fake clock's start.
const t0 uint64 = 1700000010

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Agent.ID = "agent-test"
	cfg.Agent.Listeners = 2
	cfg.Agent.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startRun(t *testing.T, ctx context.Context, cfg *config.Config, clock timer.Clock) (*testutil.SyncBuffer, <-chan error) {
	t.Helper()
	buf := &testutil.SyncBuffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, logger, clock)
	}()
	return buf, errCh
}

func awaitLog(t *testing.T, buf *testutil.SyncBuffer, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), msg)
	}, 2*time.Second, time.Millisecond, "log never contained %q", msg)
}

func awaitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("stops after the configured ticks", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Unix(int64(t0)-7, 0))
		cfg := testConfig()
		cfg.Agent.Ticks = 2

		buf, errCh := startRun(t, context.Background(), cfg, clock)

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(7 * time.Second)
		awaitLog(t, buf, `"seen":1`)
		awaitLog(t, buf, "Listener received boundary")

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(10 * time.Second)
		awaitLog(t, buf, "Listeners dropped")

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(10 * time.Second)
		require.NoError(t, awaitResult(t, errCh))

		out := buf.String()
		assert.Contains(t, out, `"agent_id":"agent-test"`)
		assert.Contains(t, out, `"listeners":4`, "placeholder, control and two listeners")
		assert.Contains(t, out, `"boundary":1700000010`)
		assert.Contains(t, out, `"boundary":1700000020`)
		assert.NotContains(t, out, `"boundary":1700000030`)
		assert.Contains(t, out, "Agent stopped")
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Unix(int64(t0)-7, 0))
		cfg := testConfig()

		ctx, cancel := testutil.NewTestContext()
		defer cancel()

		buf, errCh := startRun(t, ctx, cfg, clock)

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(7 * time.Second)
		awaitLog(t, buf, `"seen":1`)

		cancel()
		awaitLog(t, buf, "Listeners dropped")

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(10 * time.Second)
		require.NoError(t, awaitResult(t, errCh))
		assert.Contains(t, buf.String(), "Shutdown requested")
	})

	t.Run("generates an agent id", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Unix(int64(t0)-7, 0))
		cfg := testConfig()
		cfg.Agent.ID = ""
		cfg.Agent.Listeners = 0
		cfg.Agent.Ticks = 1

		buf, errCh := startRun(t, context.Background(), cfg, clock)

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(7 * time.Second)
		awaitLog(t, buf, "Listeners dropped")

		testutil.AwaitWaiters(t, clock, 1)
		clock.Advance(10 * time.Second)
		require.NoError(t, awaitResult(t, errCh))
		assert.Regexp(t, `"agent_id":"[0-9a-f-]{36}"`, buf.String())
	})

	t.Run("returns the timer error", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Unix(-5, 0))
		cfg := testConfig()

		_, errCh := startRun(t, context.Background(), cfg, clock)

		err := awaitResult(t, errCh)
		require.Error(t, err)
		assert.ErrorIs(t, err, timer.ErrClock)
	})
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := timer.NewMetrics(reg)
	require.NoError(t, err)

	srv := newMetricsServer(":0", reg)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pulse_build_info")
	assert.Contains(t, string(body), "pulse_listeners")

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestNewRunCmd(t *testing.T) {
	cmd := NewRunCmd()
	assert.Equal(t, "run", cmd.Use)

	for _, name := range []string{"config", "listeners", "ticks", "metrics-addr", "agent-id"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}

	cmd.SetArgs([]string{"--ticks=-1"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

type poisonedListeners struct{}

func (poisonedListeners) ListenerCount() (int, error) { return 0, timer.ErrLockPoisoned }
func (poisonedListeners) DropListeners() error        { return timer.ErrLockPoisoned }

func TestListenerErrorsAreLogged(t *testing.T) {
	var buf testutil.SyncBuffer
	logger := zerolog.New(&buf)

	assert.Zero(t, listenerCount(logger, poisonedListeners{}))
	dropAfterFailure(logger, poisonedListeners{})

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "Failed to count listeners")
	assert.Contains(t, out, "Failed to drop listeners after agent failure")
	assert.Contains(t, out, timer.ErrLockPoisoned.Error())
}
