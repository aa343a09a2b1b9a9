package server_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deliberation-platform/identity/internal/config"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_PEPPERS__VALUES", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	t.Setenv("IDENTITY_LOG_LEVEL", "error")
}

func testParams(svc *server.Service) server.Params {
	return server.Params{
		Name:    "testservice",
		Version: "test",
		Setup: func(_ context.Context, _ *config.Config, _ *slog.Logger) (*server.Service, error) {
			return svc, nil
		},
	}
}

func pingService() *server.Service {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	return &server.Service{Handler: mux}
}

func startServer(t *testing.T, p server.Params) (addr string, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	ln := newTestListener(t)
	ch := make(chan error, 1)
	go func() {
		ch <- server.Run(ctx, p, ln)
	}()

	waitForHealthy(t, ln.Addr().String())
	return ln.Addr().String(), cancel, ch
}

func TestRunGracefulShutdown(t *testing.T) {
	setTestEnv(t)
	var closed atomic.Bool
	svc := pingService()
	svc.Close = func() { closed.Store(true) }

	_, cancel, errCh := startServer(t, testParams(svc))

	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
		assert.LessOrEqual(t, time.Since(start), domain.GracefulShutdownTimeout)
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown did not complete within budget")
	}
	assert.True(t, closed.Load(), "service Close must run on shutdown")
}

func TestRunRoutesServiceHandler(t *testing.T) {
	setTestEnv(t)
	addr, cancel, errCh := startServer(t, testParams(pingService()))
	defer func() {
		cancel()
		<-errCh
	}()

	resp, err := httpGet(t, fmt.Sprintf("http://%s/ping", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestReadyz(t *testing.T) {
	setTestEnv(t)
	var failing atomic.Bool
	svc := pingService()
	svc.Ready = func(context.Context) error {
		if failing.Load() {
			return errors.New("redis down")
		}
		return nil
	}

	addr, cancel, errCh := startServer(t, testParams(svc))
	defer func() {
		cancel()
		<-errCh
	}()

	resp, err := httpGet(t, fmt.Sprintf("http://%s/readyz", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing.Store(true)
	resp, err = httpGet(t, fmt.Sprintf("http://%s/readyz", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthCheckReturns503DuringShutdown(t *testing.T) {
	setTestEnv(t)
	addr, cancel, errCh := startServer(t, testParams(pingService()))

	cancel()

	// Health check should return 503 during drain delay (before server stops).
	eventually(t, 2*time.Second, func() bool {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	})

	<-errCh
}

func TestRunSetupError(t *testing.T) {
	setTestEnv(t)
	setupErr := errors.New("dynamodb unreachable")
	p := server.Params{
		Name: "testservice",
		Setup: func(context.Context, *config.Config, *slog.Logger) (*server.Service, error) {
			return nil, setupErr
		},
	}

	ln := newTestListener(t)
	defer ln.Close()

	err := server.Run(context.Background(), p, ln)

	require.Error(t, err)
	assert.ErrorIs(t, err, setupErr)
}

func TestRunConfigError(t *testing.T) {
	t.Setenv("IDENTITY_STORAGE__DRIVER", "sqlite")
	setTestEnv(t)

	err := server.Run(context.Background(), testParams(pingService()), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

// newTestListener creates a TCP listener on an OS-assigned port.
func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	return ln
}

// waitForHealthy polls the health endpoint until it returns 200.
func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server at %s not healthy within 5s", addr)
}

// httpGet performs an HTTP GET with a background context (satisfies noctx linter).
func httpGet(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// eventually retries f until it returns true or timeout expires.
func eventually(t *testing.T, timeout time.Duration, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
