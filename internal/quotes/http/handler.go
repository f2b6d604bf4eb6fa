package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stockx.com/internal/quotes/cache"
	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/common"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/xerr"
)

type handler struct {
	deps     Deps
	maxBatch int
}

type quoteView struct {
	model.Quote
	Stale bool `json:"stale"`
}

type batchReq struct {
	Symbols []string `json:"symbols" binding:"required"`
}

type streamView struct {
	Connected  bool  `json:"connected"`
	Subscribed int   `json:"subscribed"`
	Dropped    int64 `json:"dropped"`
}

type statusView struct {
	Breakers  []ratelimit.BreakerState `json:"breakers"`
	Stream    *streamView              `json:"stream"`
	DemandSet int                      `json:"demandSet"`
	Consumers int                      `json:"consumers"`
	Cached    int                      `json:"cached"`
	Now       time.Time                `json:"now"`
}

// GET /api/stocks/:symbol 单个查询，过期就同步刷新
func (h *handler) quote(c *gin.Context) {
	q, err := h.deps.Cache.Read(c.Request.Context(), c.Param("symbol"), cache.ModeSync)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, h.view(q))
}

// GET /api/stocks?symbols=A,B
func (h *handler) batchQuery(c *gin.Context) {
	var syms []string
	for _, s := range strings.Split(c.Query("symbols"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			syms = append(syms, s)
		}
	}
	h.batch(c, syms)
}

// POST /api/stocks/batch {"symbols":[...]}
func (h *handler) batchBody(c *gin.Context) {
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError))
		return
	}
	h.batch(c, req.Symbols)
}

// batch 列表不等刷新，过期的先返回旧值
func (h *handler) batch(c *gin.Context, syms []string) {
	if len(syms) == 0 || len(syms) > h.maxBatch {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError))
		return
	}
	qs, err := h.deps.Cache.ReadBatch(c.Request.Context(), syms)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	out := make([]quoteView, 0, len(qs))
	for _, q := range qs {
		out = append(out, h.view(q))
	}
	common.Success(c, out)
}

// GET /api/stocks/status
func (h *handler) status(c *gin.Context) {
	v := statusView{
		Breakers: make([]ratelimit.BreakerState, 0, len(h.deps.Breakers)),
		Cached:   h.deps.Cache.Len(),
		Now:      time.Now(),
	}
	for _, b := range h.deps.Breakers {
		v.Breakers = append(v.Breakers, b.Breaker())
	}
	if s := h.deps.Stream; s != nil {
		v.Stream = &streamView{Connected: s.Connected(), Subscribed: s.Subscribed(), Dropped: s.Dropped()}
	}
	if h.deps.Hub != nil {
		v.DemandSet = len(h.deps.Hub.DemandSet())
		v.Consumers = h.deps.Hub.Consumers()
	}
	common.Success(c, v)
}

func (h *handler) view(q model.Quote) quoteView {
	return quoteView{Quote: q, Stale: !h.deps.Cache.Fresh(q)}
}
