package serverrun

import (
	"context"
	"net/http"
	"testing"
	"time"

	cfgpkg "github.com/jswanson6857/shop-analytics/internal/config"
	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
)

func TestRunServesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			DataDir:  t.TempDir(),
			HTTPAddr: "127.0.0.1:18931",
			Fsync:    pebblestore.FsyncModeNever,
			Config:   cfgpkg.Default(),
		})
	}()

	var healthy bool
	for i := 0; i < 100; i++ {
		resp, err := http.Get("http://127.0.0.1:18931/v1/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				healthy = true
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !healthy {
		cancel()
		t.Fatal("server never became healthy")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
