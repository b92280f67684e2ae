package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/quiz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/api/rooms/quiz", entry.Data["path"])
	assert.Equal(t, http.MethodGet, entry.Data["method"])
}

func TestLogMiddlewareDefaultsToOK(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, hook.LastEntry().Data["status"])
}

func TestHijackWithoutSupport(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
	assert.NotNil(t, rec.Unwrap())
}

func TestWebSocketLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logrus.NewEntry(logger).WithField("room_id", "abc")

	LogWebSocketConnect(entry, "1.2.3.4:5", "/ws/abc/quiz")
	assert.Equal(t, "WebSocket connected", hook.LastEntry().Message)
	assert.Equal(t, "abc", hook.LastEntry().Data["room_id"])

	LogWebSocketDisconnect(entry, "1.2.3.4:5", "/ws/abc/quiz", errors.New("eof"))
	assert.Equal(t, "WebSocket disconnected", hook.LastEntry().Message)
	assert.NotNil(t, hook.LastEntry().Data["error"])
}
