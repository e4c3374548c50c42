package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(stats.leaves.WithLabelValues("status"))
	LeafApplied("status")
	LeafApplied("status")
	if got := testutil.ToFloat64(stats.leaves.WithLabelValues("status")) - before; got != 2 {
		t.Errorf("leaves_applied delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(stats.callbackErrors.WithLabelValues("config"))
	CallbackFailed("config")
	if got := testutil.ToFloat64(stats.callbackErrors.WithLabelValues("config")) - before; got != 1 {
		t.Errorf("callback_errors delta = %v, want 1", got)
	}

	SetConnected(true)
	if got := testutil.ToFloat64(stats.connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	SetConnected(false)
	if got := testutil.ToFloat64(stats.connected); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	Polled("configuration")

	addr, err := Serve(ctx, "127.0.0.1:0", "", nil)
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + DefaultPath)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `daqlink_store_polls_total{table="configuration"}`) {
		t.Errorf("metrics output missing store poll counter:\n%s", body)
	}
}
