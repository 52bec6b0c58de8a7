package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xsamyy/killerwhale/internal/price"
)

func TestSlotAdvanced(t *testing.T) {
	m := New()

	m.SlotAdvanced("processed", 100, 110)
	m.SlotAdvanced("warped", 195, 200)
	m.SlotAdvanced("idle", 195, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlotsProcessed.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warps))
	assert.Equal(t, 195.0, testutil.ToFloat64(m.Cursor))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.Tip))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Lag))
}

func TestObservers(t *testing.T) {
	m := New()

	m.BlockFetched("rpc.example", 20*time.Millisecond, errors.New("timeout"))
	m.EventClassified("whale", "exchange-inflow")
	m.DuplicateSuppressed()
	m.SourceFailed("coingecko")
	m.QuoteServed(price.Quote{Value: 150}, true)
	m.QuoteServed(price.Quote{Value: 150}, false)
	m.AlertResult("sent")
	m.ArchiveFailed("postgres")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockFetchError.WithLabelValues("rpc.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("whale", "exchange-inflow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceSourceFailures.WithLabelValues("coingecko")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.PriceQuote))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceServed.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Alerts.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveErrors.WithLabelValues("postgres")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SlotAdvanced("processed", 1, 2)

	health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(m.Handler(health))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "killerwhale_scanner_slots_total")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"ok":true}`, string(body))
}
