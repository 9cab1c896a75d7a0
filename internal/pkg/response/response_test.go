package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var (
	errMissing = errors.New("missing")
	errBad     = errors.New("bad input")
)

func TestMapperResolve(t *testing.T) {
	m := NewMapper(500, "internal error",
		Rule{Match: func(err error) bool { return errors.Is(err, errMissing) }, Code: 404, Text: "not found"},
		Rule{Match: func(err error) bool { return errors.Is(err, errBad) }, Code: 400, Expose: true},
	)
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{name: "fixed text", err: fmt.Errorf("doc x: %w", errMissing), code: 404, msg: "not found"},
		{name: "exposed", err: fmt.Errorf("%w: limit", errBad), code: 400, msg: "bad input: limit"},
		{name: "fallback hides detail", err: errors.New("dial tcp: refused"), code: 500, msg: "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := m.Resolve(tt.err)
			require.Equal(t, tt.code, code)
			require.Equal(t, tt.msg, msg)
		})
	}
}

func TestMapperFailWritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	NewMapper(7, "boom").Fail(c, errors.New("secret detail"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 7, body.Code)
	require.Equal(t, "boom", body.Message)
}
