package view

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

// Controller is the match surface the handler drives. *match.Runner implements it.
type Controller interface {
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	Resolve(ctx context.Context, target int) (round.Verdict, error)
	TogglePause(ctx context.Context) (bool, error)
	DismissTutorial(ctx context.Context) error
	ResetProgress(ctx context.Context) (bool, error)
	UpdateSettings(ctx context.Context, fn func(*feedback.Settings)) (feedback.Settings, error)
	Background(ctx context.Context) error
	Foreground(ctx context.Context) error
	Quit(ctx context.Context) error
	Restart(ctx context.Context) error
	Requeue(ctx context.Context) error
	Snapshot(ctx context.Context) (match.View, error)
	Subscribe() (<-chan match.View, func())
}

// Config holds configuration for the view stream
type Config struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConfig returns default stream configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			// the rendering layer runs on the same machine
			return true
		},
	}
}

// Handler serves match views and forwards player actions to the controller.
type Handler struct {
	controller Controller
	config     Config
	upgrader   websocket.Upgrader
}

func NewHandler(controller Controller, config Config) *Handler {
	d := DefaultConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = d.CheckOrigin
	}
	return &Handler{
		controller: controller,
		config:     config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// ActionResponse is returned by every POST route.
type ActionResponse struct {
	OK      bool       `json:"ok"`
	Verdict string     `json:"verdict,omitempty"`
	View    match.View `json:"view"`
}

type resolveRequest struct {
	Target *int `json:"target"`
}

// settingsRequest changes only the toggles it names.
type settingsRequest struct {
	Music     *bool `json:"music"`
	SFX       *bool `json:"sfx"`
	Vibration *bool `json:"vibration"`
}

func (req settingsRequest) empty() bool {
	return req.Music == nil && req.SFX == nil && req.Vibration == nil
}

func (req settingsRequest) apply(s *feedback.Settings) {
	if req.Music != nil {
		s.Music = *req.Music
	}
	if req.SFX != nil {
		s.SFX = *req.SFX
	}
	if req.Vibration != nil {
		s.Vibration = *req.Vibration
	}
}

// RegisterRoutes registers the match routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/match/state", h.HandleGetState)
	mux.HandleFunc("POST /api/match/start", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Start(ctx)
	}))
	mux.HandleFunc("POST /api/match/connect", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Connect(ctx)
	}))
	mux.HandleFunc("POST /api/match/pause", h.action(h.controller.TogglePause))
	mux.HandleFunc("POST /api/match/tutorial/dismiss", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.DismissTutorial(ctx)
	}))
	mux.HandleFunc("POST /api/match/reset", h.action(h.controller.ResetProgress))
	mux.HandleFunc("POST /api/match/settings", h.HandleSettings)
	mux.HandleFunc("POST /api/match/background", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Background(ctx)
	}))
	mux.HandleFunc("POST /api/match/foreground", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Foreground(ctx)
	}))
	mux.HandleFunc("POST /api/match/quit", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Quit(ctx)
	}))
	mux.HandleFunc("POST /api/match/restart", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Restart(ctx)
	}))
	mux.HandleFunc("POST /api/match/requeue", h.action(func(ctx context.Context) (bool, error) {
		return true, h.controller.Requeue(ctx)
	}))
	mux.HandleFunc("POST /api/match/resolve", h.HandleResolve)
	mux.HandleFunc("GET /api/match/share", h.HandleShare)
	mux.HandleFunc("GET /api/match/share/qr", h.HandleShareQR)
	mux.HandleFunc("GET /ws/view", h.HandleViewStream)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

// HandleGetState handles GET /api/match/state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	v, err := h.controller.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleResolve handles POST /api/match/resolve with a body of {"target": n}
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Target == nil {
		http.Error(w, "target is required", http.StatusBadRequest)
		return
	}

	verdict, err := h.controller.Resolve(r.Context(), *req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := h.controller.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{
		OK:      verdict != round.VerdictIgnored,
		Verdict: verdict.String(),
		View:    v,
	})
}

// HandleSettings handles POST /api/match/settings with any of
// {"music", "sfx", "vibration"}. Toggles left out keep their value.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.empty() {
		http.Error(w, "at least one of music, sfx or vibration is required", http.StatusBadRequest)
		return
	}

	if _, err := h.controller.UpdateSettings(r.Context(), req.apply); err != nil {
		writeError(w, err)
		return
	}
	v, err := h.controller.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, View: v})
}

// ShareResponse carries the text a player can post after a match.
type ShareResponse struct {
	Text      string `json:"text"`
	Score     int    `json:"score"`
	HighScore int    `json:"high_score"`
}

// HandleShare handles GET /api/match/share
func (h *Handler) HandleShare(w http.ResponseWriter, r *http.Request) {
	v, err := h.controller.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ShareResponse{Text: v.ShareText(), Score: v.Score, HighScore: v.HighScore})
}

// HandleShareQR handles GET /api/match/share/qr with a PNG QR code of the share text.
func (h *Handler) HandleShareQR(w http.ResponseWriter, r *http.Request) {
	v, err := h.controller.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	const qrSize = 320
	png, err := qrcode.Encode(v.ShareText(), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *Handler) action(fn func(ctx context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := fn(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		v, err := h.controller.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{OK: ok, View: v})
	}
}

// HandleViewStream handles GET /ws/view. The current view is sent on connect
// and again after every change until either side goes away.
func (h *Handler) HandleViewStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade view stream")
		return
	}
	defer conn.Close()

	views, unsubscribe := h.controller.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("view stream closed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return

		case v, ok := <-views:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "match closed"))
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				log.Error().Err(err).Msg("failed to write view")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, match.ErrEnded),
		errors.Is(err, match.ErrWrongMode),
		errors.Is(err, match.ErrAlreadyStarted):
		status = http.StatusConflict
	case errors.Is(err, match.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("match action failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
