package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRequestId_Generated(t *testing.T) {
	var seen string

	h := WithRequestId(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderRequestId)
	}), func() string { return "generated" })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "generated", rec.Header().Get(HeaderRequestId))
	assert.Equal(t, "", seen)
}

func TestWithRequestId_Reused(t *testing.T) {
	h := WithRequestId(http.NotFoundHandler(), func() string { return "generated" })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestId, "abc")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(HeaderRequestId))
}

func TestWithRequestId_TooLong(t *testing.T) {
	h := WithRequestId(http.NotFoundHandler(), func() string { return "generated" })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestId, strings.Repeat("x", maxRequestIdLength+1))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "generated", rec.Header().Get(HeaderRequestId))
}

func TestDefaultRequestIdProvider(t *testing.T) {
	id := DefaultRequestIdProvider()

	assert.Len(t, id, 32)
	assert.NotEqual(t, id, DefaultRequestIdProvider())
}

func TestWithRequestLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()

	h := WithRequestId(WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	}), logger), func() string { return "req-1" })

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics/backups", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)

	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusServiceUnavailable, entry.Data["status"])
	assert.Equal(t, 4, entry.Data["content_length"])
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "/metrics/backups", entry.Data["request_uri"])
}
