package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

func testProcess(buf *bytes.Buffer) (*Process, *int) {
	code := -1
	return &Process{
		Name:   "test",
		Logger: logger.New(logger.Options{ServiceName: "test", Output: buf}),
		exit:   func(c int) { code = c },
	}, &code
}

func TestCloseRunsNewestFirstOnce(t *testing.T) {
	var buf bytes.Buffer
	proc, _ := testProcess(&buf)
	var order []string
	for _, name := range []string{"tracing", "database", "redis"} {
		proc.OnClose(name, func(context.Context) error {
			order = append(order, name)
			if name == "database" {
				return errors.New("already closed")
			}
			return nil
		})
	}

	proc.Close(context.Background())
	proc.Close(context.Background())

	require.Equal(t, []string{"redis", "database", "tracing"}, order)
	require.Contains(t, buf.String(), `"resource":"database"`)
}

func TestMustClosesAndExitsOnError(t *testing.T) {
	var buf bytes.Buffer
	proc, code := testProcess(&buf)
	closed := false
	proc.OnClose("redis", func(context.Context) error { closed = true; return nil })

	proc.Must(context.Background(), "redis", nil)
	require.Equal(t, -1, *code)
	require.False(t, closed)

	proc.Must(context.Background(), "redis", errors.New("dial tcp: refused"))
	require.Equal(t, 1, *code)
	require.True(t, closed)
	require.Contains(t, buf.String(), "resource not working")
	require.Contains(t, buf.String(), "dial tcp: refused")
}

func TestRunStopsSiblingsWhenOneFails(t *testing.T) {
	var buf bytes.Buffer
	proc, _ := testProcess(&buf)
	boom := errors.New("stream read failed")
	siblingStopped := make(chan struct{})

	err := proc.Run(context.Background(),
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			close(siblingStopped)
			return ctx.Err()
		},
	)

	require.ErrorIs(t, err, boom)
	select {
	case <-siblingStopped:
	default:
		t.Fatal("sibling runner was not canceled")
	}
}

func TestRunTreatsCancellationAsCleanExit(t *testing.T) {
	var buf bytes.Buffer
	proc, _ := testProcess(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := proc.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestHTTPServerShutsDownOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- HTTPServer(srv, time.Second)(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServerReportsListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "not-an-address", ReadHeaderTimeout: time.Second}
	err := HTTPServer(srv, time.Second)(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not-an-address") || strings.Contains(err.Error(), "missing port"))
}
