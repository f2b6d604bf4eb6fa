package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockx.com/internal/quotes/cache"
	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/ws"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/xerr"
)

type stubRefresher struct {
	known map[string]float64
}

func (s stubRefresher) Refresh(_ context.Context, sym string, _ model.Quote) (model.Quote, error) {
	p, ok := s.known[sym]
	if !ok {
		return model.Quote{}, xerr.NotFound(nil)
	}
	return model.Quote{Symbol: sym, Price: model.Num(p), Tier: model.TierREST}, nil
}

type stubStream struct{}

func (stubStream) Connected() bool { return true }
func (stubStream) Subscribed() int { return 3 }
func (stubStream) Dropped() int64  { return 1 }

type stubBreaker struct{}

func (stubBreaker) Breaker() ratelimit.BreakerState {
	return ratelimit.BreakerState{Name: "yahoo", State: "closed"}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *cache.Cache) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := cache.New(ctx, cache.DefaultConfig(), nil, stubRefresher{known: map[string]float64{"RELIANCE.NS": 2950.5}})
	r := NewRouter(ctx, Config{MaxBatch: 3}, Deps{
		Cache:    c,
		Hub:      ws.NewHub(),
		Stream:   stubStream{},
		Breakers: []BreakerSource{stubBreaker{}},
	})
	return r, c
}

func do(t *testing.T, r http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestQuote_SyncRefresh(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/stocks/reliance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var q map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "RELIANCE.NS", q["symbol"])
	assert.Equal(t, "2950.5", q["price"])
	assert.Equal(t, false, q["stale"])
	assert.NotEmpty(t, q["lastUpdatedAt"])
}

func TestQuote_NeverResolvedIs404(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/stocks/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, xerr.RecordNotFound, env.Code)
	assert.Contains(t, w.Body.String(), `"data":null`)
}

func TestBatch_OmitsUnknownAndKeepsOrder(t *testing.T) {
	r, c := newTestRouter(t)
	c.Upsert(context.Background(), "TCS.NS", model.Quote{Price: model.Num(3890)})
	c.Upsert(context.Background(), "NIFTY 50", model.Quote{Price: model.Num(22100)})

	w, env := do(t, r, http.MethodGet, "/api/stocks?symbols=NIFTY%2050,UNKNOWN,tcs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var qs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &qs))
	require.Len(t, qs, 2)
	assert.Equal(t, "NIFTY 50", qs[0]["symbol"])
	assert.Equal(t, "TCS.NS", qs[1]["symbol"])

	w, env = do(t, r, http.MethodPost, "/api/stocks/batch", []byte(`{"symbols":["TCS.NS"]}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &qs))
	assert.Len(t, qs, 1)
}

func TestBatch_BadRequests(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/api/stocks?symbols=", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/stocks?symbols=A,B,C,D", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "超过上限")

	w, _ = do(t, r, http.MethodPost, "/api/stocks/batch", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/stocks/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st struct {
		Breakers []ratelimit.BreakerState `json:"breakers"`
		Stream   struct {
			Connected  bool `json:"connected"`
			Subscribed int  `json:"subscribed"`
		} `json:"stream"`
		DemandSet int       `json:"demandSet"`
		Now       time.Time `json:"now"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Len(t, st.Breakers, 1)
	assert.Equal(t, "yahoo", st.Breakers[0].Name)
	assert.True(t, st.Stream.Connected)
	assert.Equal(t, 3, st.Stream.Subscribed)
	assert.Zero(t, st.DemandSet)
}
