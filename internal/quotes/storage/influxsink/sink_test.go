package influxsink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockx.com/internal/quotes/model"
)

func TestSink_WritesLineProtocol(t *testing.T) {
	bodies := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			bodies <- string(b)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, Token: "t", Org: "o", Bucket: "b", BatchSize: 10, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan model.Tick, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in) }()

	in <- model.Tick{
		Src:           "fyers",
		Symbol:        "NIFTY 50",
		Price:         decimal.RequireFromString("22104.35"),
		ChangePercent: model.Num(-0.09),
		At:            time.Unix(1_700_000_000, 0),
	}
	close(in)
	require.NoError(t, <-done)
	cancel()
	s.Close()

	select {
	case body := <-bodies:
		assert.True(t, strings.HasPrefix(body, `ticks,src=fyers,symbol=NIFTY\ 50 `), body)
		assert.Contains(t, body, "price=22104.35")
		assert.Contains(t, body, "chp=-0.09")
		assert.NotContains(t, body, "high=")
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
	}
}

func TestConfigString(t *testing.T) {
	s := Config{URL: "http://influx:8086", Org: "o", Bucket: "ticks", BatchSize: 5}.String()
	assert.Contains(t, s, "bucket=ticks")
	assert.Contains(t, s, "batch=5")
}
