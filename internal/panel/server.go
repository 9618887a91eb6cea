package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	wsWriteTimeout           = 10 * time.Second
	wsPingInterval           = 30 * time.Second
	wsPongTimeout            = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is the HTTP front of a Panel.
type Server struct {
	panel *Panel
	mux   *http.ServeMux

	server *http.Server

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// NewServer routes the panel API. metrics and health may be nil; without
// a health handler /health answers a plain "ok".
func NewServer(p *Panel, metrics, health http.Handler) *Server {
	s := &Server{panel: p, mux: http.NewServeMux()}
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	s.mux.HandleFunc("GET /surfaces", s.handleSurfaces)
	s.mux.HandleFunc("POST /select", s.handleSelect)
	s.mux.HandleFunc("GET /options", s.handleOptions)
	s.mux.HandleFunc("POST /options", s.handleSetOptions)
	s.mux.HandleFunc("POST /record", s.handleRecord)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /artifacts/{handle}", s.handleArtifact)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	s.mux.Handle("GET /health", health)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown, including one that
// happened before it was called.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("panel server already started")
	}
	s.started = true
	s.server.Addr = addr
	s.mu.Unlock()

	log.Info("panel listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. A later ListenAndServe returns
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("writing response failed", logging.KeyError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSurfaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"surfaces": s.panel.Surfaces(),
		"selected": s.panel.Selected(),
	})
}

type selectRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.panel.Select(req.ID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.panel.Status())
}

type optionsResponse struct {
	Durations  []Choice `json:"durations"`
	Qualities  []string `json:"qualities"`
	Formats    []string `json:"formats"`
	DurationMs int64    `json:"durationMs"`
	Quality    string   `json:"quality"`
	Supported  bool     `json:"supported"`
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	_, d, q := s.panel.Settings()
	caps := s.panel.host.Capabilities
	var formats []string
	for _, f := range capture.SupportedFormats(caps) {
		formats = append(formats, string(f))
	}
	writeJSON(w, http.StatusOK, optionsResponse{
		Durations:  DurationChoices,
		Qualities:  QualityChoices,
		Formats:    formats,
		DurationMs: d.Milliseconds(),
		Quality:    q,
		Supported:  capture.IsSupported(caps),
	})
}

type setOptionsRequest struct {
	DurationMs *int64 `json:"durationMs"`
	Quality    string `json:"quality"`
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	var req setOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Both values are checked before either is applied.
	var d time.Duration
	if req.DurationMs != nil {
		d = time.Duration(*req.DurationMs) * time.Millisecond
		if err := checkDuration(d); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Quality != "" {
		if err := checkQuality(req.Quality); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.DurationMs != nil {
		_ = s.panel.SetDuration(d)
	}
	if req.Quality != "" {
		_ = s.panel.SetQuality(req.Quality)
	}
	s.handleOptions(w, r)
}

func (s *Server) handleRecord(w http.ResponseWriter, _ *http.Request) {
	err := s.panel.Toggle()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.panel.Status())
	case errors.Is(err, capture.ErrAlreadyRecording):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrNoSurface), errors.Is(err, capture.ErrInvalidSurface):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, capture.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Status())
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	h, ok := capture.ParseHandle(r.PathValue("handle"))
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("malformed artifact handle"))
		return
	}
	data, mime, ok := s.panel.opts.Host.Blobs.Open(h)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("artifact not found or revoked"))
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleEvents streams status updates over a WebSocket until the client
// goes away or the panel closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}
	defer conn.Close()

	updates, cancel := s.panel.Watch()
	defer cancel()

	// The reader only services control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "panel closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(st); err != nil {
				log.Debug("websocket write failed", logging.KeyError, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
