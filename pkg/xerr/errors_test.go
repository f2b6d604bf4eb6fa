package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"transient", Transient(cause), KindTransient},
		{"rate limited", RateLimited(cause), KindRateLimited},
		{"circuit open", CircuitOpen(nil), KindCircuitOpen},
		{"not found", NotFound(nil), KindNotFound},
		{"mapping", MappingUnavailable("FOO"), KindMappingUnavailable},
		{"wrapped twice", fmt.Errorf("yahoo quote: %w", RateLimited(cause)), KindRateLimited},
		{"plain error", cause, KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsBySentinel(t *testing.T) {
	cause := errors.New("429 Too Many Requests")
	err := fmt.Errorf("quote RELIANCE.NS: %w", RateLimited(cause))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, cause, "原始错误要保留在链上")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsKind(err, KindRateLimited))
	assert.False(t, IsKind(nil, KindRateLimited))
}

func TestCodeError_Message(t *testing.T) {
	err := NewErrCode(RecordNotFound)
	assert.Equal(t, "ErrCode:404, Msg:记录不存在", err.Error())

	var ce *CodeError
	assert.True(t, errors.As(NotFound(errors.New("no rows")), &ce))
	assert.Equal(t, RecordNotFound, ce.Code)
	assert.Contains(t, ce.Error(), "no rows")
}
