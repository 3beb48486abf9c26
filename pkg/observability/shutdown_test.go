package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManagerDefaults(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, defaultShutdownTimeout, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdownRunsStepsInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var mu sync.Mutex
	var order []string
	step := func(name string) ShutdownFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.RegisterShutdownFunc("database", step("database"))
	sm.RegisterShutdownFunc("redis", step("redis"))
	sm.RegisterShutdownFunc("otel", step("otel"))
	sm.RegisterShutdownFunc("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"otel", "redis", "database"}, order)
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	ran := false
	sm.RegisterShutdownFunc("last", func(context.Context) error { ran = true; return nil })
	sm.RegisterShutdownFunc("first", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: flush failed")
	assert.True(t, ran)
}

func TestShutdownStopsWhenContextExpires(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	ran := false
	sm.RegisterShutdownFunc("never", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestShutdownDrainsServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	sm := NewShutdownManager(NopLogger(), time.Second, srv)
	require.NoError(t, sm.Shutdown(context.Background()))

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWaitForShutdownOnContextCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	done := make(chan struct{})
	sm.RegisterShutdownFunc("marker", func(context.Context) error { close(done); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	<-done
}
