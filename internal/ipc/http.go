package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// DefaultHTTPAddr is the loopback address of the HTTP transport.
const DefaultHTTPAddr = "127.0.0.1:47474"

// MaxHTTPBodySize caps a request body.
const MaxHTTPBodySize = 1 << 20

// httpRequest is the reduced request shape accepted over HTTP.
type httpRequest struct {
	Action string `json:"action"`
	Domain string `json:"domain,omitempty"`
}

// HTTPConfig configures an HTTPServer.
type HTTPConfig struct {
	Addr string
	// Metrics, if set, is served on GET /metrics.
	Metrics http.Handler
}

// HTTPServer serves get_credentials and ping to browser clients on loopback.
type HTTPServer struct {
	dispatcher *Dispatcher
	log        *zap.Logger
	server     *http.Server
}

// NewHTTPServer returns a server dispatching through d.
func NewHTTPServer(d *Dispatcher, cfg HTTPConfig, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultHTTPAddr
	}

	h := &HTTPServer{
		dispatcher: d.For(TransportHTTP, ActionGetCredentials, ActionPing),
		log:        log.With(zap.String("transport", TransportHTTP)),
	}
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.routes(cfg.Metrics),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return h
}

func (h *HTTPServer) routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/*", h.handleRequest)
	return r
}

// Handler returns the router, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (h *HTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	h.log.Info("http transport listening", zap.String("addr", ln.Addr().String()))
	return h.Serve(ln)
}

// Serve serves on ln. It returns nil after Shutdown.
func (h *HTTPServer) Serve(ln net.Listener) error {
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for active requests until ctx is
// done.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxHTTPBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResponse(w, ErrorResponse(MsgTooLarge))
			return
		}
		h.log.Debug("failed to read request body", zap.Error(err))
		writeResponse(w, InvalidJSON(err))
		return
	}

	var req httpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, InvalidJSON(err))
		return
	}

	resp := h.dispatcher.Handle(r.Context(), Request{Action: req.Action, Domain: req.Domain})
	writeResponse(w, resp)
}

// writeResponse always answers 200 with an explicit byte length.
func writeResponse(w http.ResponseWriter, resp Response) {
	body := MarshalResponse(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
