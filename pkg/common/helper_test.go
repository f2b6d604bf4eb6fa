package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"stockx.com/pkg/xerr"
)

func TestMapErrToHTTP(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{xerr.NotFound(errors.New("yahoo: no result")), http.StatusNotFound, xerr.RecordNotFound},
		{xerr.ErrMappingUnavailable, http.StatusBadRequest, xerr.RequestParamsError},
		{xerr.RateLimited(nil), http.StatusTooManyRequests, xerr.TooManyRequests},
		{xerr.CircuitOpen(nil), http.StatusServiceUnavailable, xerr.CircuitOpenError},
		{xerr.Transient(errors.New("timeout")), http.StatusBadGateway, xerr.UpstreamError},
		{errors.New("boom"), http.StatusInternalServerError, xerr.ServerCommonError},
	}
	for _, c := range cases {
		status, code, msg := mapErrToHTTP(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, code)
		assert.Equal(t, xerr.MapErrMsg(c.code), msg)
	}
}

func TestFailFromErr_HidesCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/stocks/X", nil)

	FailFromErr(c, xerr.Transient(errors.New("dial tcp 10.0.0.1:443: i/o timeout")))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
	assert.Contains(t, w.Body.String(), `"data":null`)
}
