package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedRouter(t *testing.T) (*gin.Engine, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	hook := test.NewLocal(l)

	r := gin.New()
	r.Use(RequestLogger(l))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/sessions/:session_id/state", func(c *gin.Context) {
		_ = c.Error(errors.New("store unavailable"))
		c.Status(http.StatusServiceUnavailable)
	})
	return r, hook
}

func TestRequestLoggerFields(t *testing.T) {
	r, hook := newLoggedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/state", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "s1", entry.Data["session_id"])
	assert.Equal(t, "/api/sessions/:session_id/state", entry.Data["path"])
	assert.Contains(t, entry.Data["errors"], "store unavailable")

	_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
	assert.NoError(t, err)
}

func TestRequestLoggerRequestID(t *testing.T) {
	r, _ := newLoggedRouter(t)
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "<script>", w.Header().Get(HeaderRequestID))
}

func TestRequestLoggerQuietsHealthChecks(t *testing.T) {
	r, hook := newLoggedRouter(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Empty(t, hook.AllEntries())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "unmatched", entry.Data["path"])
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}
