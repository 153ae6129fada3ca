package ipc

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/grimoire/internal/metrics"
	"github.com/forest6511/grimoire/pkg/secret"
)

func doHTTP(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	resp, err := ParseResponse(rec.Body.Bytes())
	require.NoError(t, err)
	return resp
}

func TestHTTPLockedGating(t *testing.T) {
	v := newLockedVault(t)
	h := NewHTTPServer(NewDispatcher(v, nil, nil), HTTPConfig{}, nil).Handler()

	for _, body := range []string{
		`{"action":"ping"}`,
		`{"action":"get_credentials","domain":"github.com"}`,
		`{"action":"get_credentials"}`,
	} {
		rec := doHTTP(t, h, http.MethodPost, "/", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ErrorResponse(MsgLocked), decodeResponse(t, rec), body)
	}

	unlock(t, v)
	defer v.Close()
	_, err := v.UpsertCredentials(context.Background(), "github.com", "u", "p")
	require.NoError(t, err)

	rec := doHTTP(t, h, http.MethodPost, "/any/path", `{"action":"get_credentials","domain":"https://github.com/login"}`)
	assert.Equal(t, Response{OK: true, Username: "u", Password: "p"}, decodeResponse(t, rec))
}

func TestHTTPResponseHeaders(t *testing.T) {
	h := NewHTTPServer(NewDispatcher(newFakeVault(true), nil, nil), HTTPConfig{}, nil).Handler()

	rec := doHTTP(t, h, http.MethodPost, "/", `{"action":"ping"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestHTTPContentLengthCountsBytes(t *testing.T) {
	v := newFakeVault(true)
	v.creds["example"] = secret.Credentials{Username: "josé", Password: "pässwörd"}
	h := NewHTTPServer(NewDispatcher(v, nil, nil), HTTPConfig{}, nil).Handler()

	rec := doHTTP(t, h, http.MethodPost, "/", `{"action":"get_credentials","domain":"example.com"}`)
	body := rec.Body.String()
	assert.Equal(t, strconv.Itoa(len(body)), rec.Header().Get("Content-Length"))
	assert.Greater(t, len(body), len([]rune(body)))
}

func TestHTTPPreflight(t *testing.T) {
	h := NewHTTPServer(NewDispatcher(newFakeVault(false), nil, nil), HTTPConfig{}, nil).Handler()

	rec := doHTTP(t, h, http.MethodOptions, "/whatever", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPRejectsSetCredentials(t *testing.T) {
	v := newFakeVault(true)
	h := NewHTTPServer(NewDispatcher(v, nil, nil), HTTPConfig{}, nil).Handler()

	rec := doHTTP(t, h, http.MethodPost, "/", `{"action":"set_credentials","domain":"a.com","username":"u","password":"p"}`)
	assert.Equal(t, ErrorResponse(MsgUnknownAction), decodeResponse(t, rec))
	assert.Zero(t, v.upserts)
}

func TestHTTPInvalidJSON(t *testing.T) {
	h := NewHTTPServer(NewDispatcher(newFakeVault(true), nil, nil), HTTPConfig{}, nil).Handler()

	rec := doHTTP(t, h, http.MethodPost, "/", `{"action"`)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.OK)
	assert.True(t, strings.HasPrefix(resp.Error, "Invalid JSON: "), resp.Error)
}

func TestHTTPBodyLimit(t *testing.T) {
	h := NewHTTPServer(NewDispatcher(newFakeVault(true), nil, nil), HTTPConfig{}, nil).Handler()

	body := `{"action":"ping","domain":"` + strings.Repeat("a", MaxHTTPBodySize) + `"}`
	rec := doHTTP(t, h, http.MethodPost, "/", body)
	assert.Equal(t, ErrorResponse(MsgTooLarge), decodeResponse(t, rec))
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	m := metrics.New("grimoire")
	h := NewHTTPServer(NewDispatcher(newFakeVault(true), nil, m), HTTPConfig{Metrics: m.Handler()}, nil).Handler()

	doHTTP(t, h, http.MethodPost, "/", `{"action":"ping"}`)

	rec := doHTTP(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `grimoire_requests_total{action="ping",result="ok",transport="http"} 1`)
}

func TestHTTPServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewHTTPServer(NewDispatcher(newFakeVault(true), nil, nil), HTTPConfig{}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/", "application/json", bytes.NewBufferString(`{"action":"ping"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
