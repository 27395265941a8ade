package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomdesk/shipsync/config"
	"github.com/bloomdesk/shipsync/internal/services/runner"
)

func TestRunWorkerHTTPServer(t *testing.T) {
	sweeper := runner.NewSweeper(nil, nil, time.Second, 10, nil)
	cfg := &config.Config{ShipSync: config.ShipSyncConfig{
		WorkerSweepIntervalSeconds: 5,
		WorkerJobLimit:             5,
		WorkerItemLimit:            100,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(addr string) { addrCh <- addr },
			sweeper:  sweeper,
			cfg:      cfg,
		})
	}()

	addr := <-addrCh
	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + addr + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	require.Equal(t, 200, code)
	require.Contains(t, body, "ok")

	code, body = get("/stats")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"sweeps"`)

	code, body = get("/config")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"jobLimit":5`)

	resp, err := http.Post("http://"+addr+"/trigger", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}
