// JSON surface mapping device requests onto the device service:
// /device/* for devices, /devices/{code}/commands for the platform.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"device-remoting/internal/core/command"
	"device-remoting/internal/core/devices"
	"device-remoting/internal/core/session"
	"device-remoting/internal/core/token"
	"device-remoting/internal/delivery/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Handler struct {
	svc            *devices.Service
	mgr            *session.Manager
	sessionTimeout time.Duration
	operatorToken  string
	upgrader       websocket.Upgrader
	lg             zerolog.Logger
}

type Options struct {
	SessionTimeout time.Duration
	// OperatorToken must be presented on the platform routes. Empty rejects
	// every platform request.
	OperatorToken string
}

type ctxKey int

const (
	deviceKey ctxKey = iota
	claimsKey
	tokenKey
)

func New(svc *devices.Service, mgr *session.Manager, opts Options, lg zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &Handler{
		svc:            svc,
		mgr:            mgr,
		sessionTimeout: opts.SessionTimeout,
		operatorToken:  opts.OperatorToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		lg: lg.With().Str("component", "http").Logger(),
	}

	// --- Device Routes ---
	r.Route("/device", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/logout", h.handleLogout)
			r.Post("/ping", h.handlePing)
			r.Post("/reply", h.handleReply)
			r.Post("/events", h.handleEvents)
			r.Get("/upgrade", h.handleUpgrade)
			r.Get("/notify", h.handleNotify)
		})
	})

	// --- Platform Routes ---
	r.Group(func(r chi.Router) {
		r.Use(h.operator)
		r.Post("/devices/{code}/commands", h.handleSendCommand)
	})

	r.Handle("/metrics", promhttp.Handler())

	// --- Swagger Docs Route ---
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.WrapHandler)

	return r
}

// authenticate resolves the bearer token to a device.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearer(r)
		dev, claims, err := h.svc.Authenticate(r.Context(), tok)
		if err != nil {
			h.fail(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), deviceKey, dev)
		ctx = context.WithValue(ctx, claimsKey, claims)
		ctx = context.WithValue(ctx, tokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operator admits platform callers presenting the operator token.
func (h *Handler) operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.operatorToken == "" {
			http.Error(w, "platform routes disabled", http.StatusForbidden)
			return
		}
		tok := bearer(r)
		if tok == "" || subtle.ConstantTimeCompare([]byte(tok), []byte(h.operatorToken)) != 1 {
			http.Error(w, "invalid operator token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if t, ok := strings.CutPrefix(v, "Bearer "); ok {
			return t
		}
		return v
	}
	if v := r.Header.Get("X-Token"); v != "" {
		return v
	}
	return r.URL.Query().Get("token")
}

func fromContext(r *http.Request) (*devices.Device, *token.Claims, string) {
	dev, _ := r.Context().Value(deviceKey).(*devices.Device)
	claims, _ := r.Context().Value(claimsKey).(*token.Claims)
	tok, _ := r.Context().Value(tokenKey).(string)
	return dev, claims, tok
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// handleLogin authenticates a device.
// @Summary      Device login
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        login  body      devices.LoginRequest  true  "Credentials"
// @Success      200    {object}  devices.LoginResponse
// @Failure      401    {string}  string "Unauthorized"
// @Failure      403    {string}  string "Forbidden"
// @Router       /device/login [post]
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req devices.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "body must be a login request", http.StatusBadRequest)
		return
	}
	_, _, resp, err := h.svc.Login(r.Context(), &req, "http", clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, resp)
}

// handleRefresh swaps a refresh token for a new token.
// @Summary      Refresh token
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        refresh  body      devices.RefreshTokenRequest  true  "Refresh token"
// @Success      200      {object}  token.Model
// @Router       /device/refresh [post]
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req devices.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "body must be a refresh request", http.StatusBadRequest)
		return
	}
	tk, err := h.svc.RefreshToken(r.Context(), &req, clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, tk)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	dev, claims, _ := fromContext(r)
	reason := r.URL.Query().Get("reason")
	online, err := h.svc.Logout(r.Context(), dev, reason, "http", claims.ClientID, clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, map[string]bool{"online": online != nil})
}

// handlePing processes a heartbeat.
// @Summary      Device heartbeat
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        ping  body      devices.PingRequest  true  "Heartbeat"
// @Success      200   {object}  devices.PingResponse
// @Router       /device/ping [post]
func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	var req devices.PingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "body must be a ping request", http.StatusBadRequest)
		return
	}
	dev, claims, tok := fromContext(r)
	_, resp, err := h.svc.Ping(r.Context(), dev, &req, tok, claims.ClientID, clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	var reply command.Reply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		http.Error(w, "body must be a command reply", http.StatusBadRequest)
		return
	}
	dev, _, _ := fromContext(r)
	n, err := h.svc.CommandReply(r.Context(), dev, &reply, clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, n)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var events []*devices.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, "body must be an event array", http.StatusBadRequest)
		return
	}
	dev, _, _ := fromContext(r)
	n, err := h.svc.PostEvents(r.Context(), dev, events, clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, n)
}

func (h *Handler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	dev, _, _ := fromContext(r)
	rel, err := h.svc.Upgrade(r.Context(), dev, r.URL.Query().Get("channel"), clientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if rel == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, rel)
}

// handleNotify upgrades to a websocket that carries commands to the device
// and its replies back.
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	dev, claims, tok := fromContext(r)
	ip := clientIP(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Warn().Err(err).Str("code", dev.Code).Msg("websocket upgrade")
		return
	}

	sess := ws.New(conn, dev.Code, h.sessionTimeout, h.mgr.Deregister, h.lg)
	if err := h.mgr.Add(sess); err != nil {
		h.lg.Error().Err(err).Str("code", dev.Code).Msg("register session")
		_ = sess.Close("register failed")
		return
	}

	// the request context ends once the handler returns; the socket outlives it
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.svc.SetOnline(ctx, dev, true, tok, claims.ClientID, ip); err != nil {
		h.lg.Warn().Err(err).Str("code", dev.Code).Msg("set online")
	}

	sess.Run(ctx, func(ctx context.Context, reply *command.Reply) {
		if _, err := h.svc.CommandReply(ctx, dev, reply, ip); err != nil {
			h.lg.Warn().Err(err).Str("code", dev.Code).Msg("command reply")
		}
	})

	if _, err := h.svc.SetOnline(ctx, dev, false, tok, claims.ClientID, ip); err != nil {
		h.lg.Warn().Err(err).Str("code", dev.Code).Msg("set offline")
	}
}

type sendCommandRequest struct {
	Command  string `json:"command" example:"reboot"`
	Argument string `json:"argument,omitempty"`
	// Expire is relative, in seconds.
	Expire int `json:"expire,omitempty" example:"60"`
	// Wait for a reply this many seconds; zero sends without waiting.
	Wait int `json:"wait,omitempty"`
	// Queue leaves the command for the device's next heartbeat.
	Queue bool `json:"queue,omitempty"`
}

// handleSendCommand sends a command to a device.
// @Summary      Send a command
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        code     path      string              true  "Device code"
// @Param        command  body      sendCommandRequest  true  "Command"
// @Success      200      {object}  map[string]any
// @Failure      401      {string}  string  "missing or wrong operator token"
// @Router       /devices/{code}/commands [post]
func (h *Handler) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		http.Error(w, "body must be {\"command\":\"<name>\"}", http.StatusBadRequest)
		return
	}

	cmd := &command.Model{Command: req.Command, Argument: req.Argument}
	if req.Expire > 0 {
		cmd.Expire = time.Now().UTC().Add(time.Duration(req.Expire) * time.Second)
	}

	switch {
	case req.Queue:
		if err := h.svc.QueueCommand(r.Context(), code, cmd); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, map[string]any{"id": cmd.ID, "queued": true})

	case req.Wait > 0:
		reply, err := h.svc.SendCommandAndWait(r.Context(), code, cmd, time.Duration(req.Wait)*time.Second)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, map[string]any{"id": cmd.ID, "reply": reply})

	default:
		n, err := h.svc.SendCommand(r.Context(), code, cmd)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, map[string]any{"id": cmd.ID, "delivered": n})
	}
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, devices.ErrArgument):
		status = http.StatusBadRequest
	case errors.Is(err, devices.ErrUnauthorized),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken):
		status = http.StatusUnauthorized
	case errors.Is(err, devices.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, devices.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.lg.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
