package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ServerController is the part of *lifecycle.Controller the HTTP layer uses.
type ServerController interface {
	Launch(ctx context.Context, playTimeMinutes int) (lifecycle.Resolution, error)
	Shutdown(ctx context.Context, waitMinutes *int) (lifecycle.Resolution, error)
	Describe(ctx context.Context) (lifecycle.Resolution, error)
	ServerIP(ctx context.Context) (netip.Addr, error)
}

type startServerRequest struct {
	PlayTimeMinutes *int `json:"play_time_minutes"`
}

type stopServerRequest struct {
	WaitMinutesBeforeDestroy *int `json:"wait_n_minutes_before_destroy"`
}

// ServerStatusResponse is the body of every /server response except the
// IP address lookup.
type ServerStatusResponse struct {
	Status            lifecycle.DeploymentStatus `json:"status"`
	ScheduledStopTime *time.Time                 `json:"scheduled_stop_time,omitempty"`
}

// ServerIPResponse is the body of GET /server/ip-address.
type ServerIPResponse struct {
	ServerIPAddress string `json:"server_ip_address"`
}

func statusResponse(res lifecycle.Resolution) ServerStatusResponse {
	return ServerStatusResponse{Status: res.Status, ScheduledStopTime: res.ScheduledStop}
}

// ServerHandler handles the game server lifecycle endpoints.
type ServerHandler struct {
	ctrl   ServerController
	logger *slog.Logger
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(ctrl ServerController, logger *slog.Logger) *ServerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerHandler{ctrl: ctrl, logger: logger}
}

// Start handles POST /server.
func (h *ServerHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startServerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayTimeMinutes == nil {
		WriteError(w, http.StatusUnprocessableEntity, "play_time_minutes is required")
		return
	}

	res, err := h.ctrl.Launch(r.Context(), *req.PlayTimeMinutes)
	if err != nil {
		writeLifecycleError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse(res))
}

// Stop handles DELETE /server. The body is optional; without a wait the
// server is destroyed immediately.
func (h *ServerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req stopServerRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.ctrl.Shutdown(r.Context(), req.WaitMinutesBeforeDestroy)
	if err != nil {
		writeLifecycleError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse(res))
}

// Status handles GET /server/status.
func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Describe(r.Context())
	if err != nil {
		writeLifecycleError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse(res))
}

// IPAddress handles GET /server/ip-address.
func (h *ServerHandler) IPAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.ctrl.ServerIP(r.Context())
	if err != nil {
		writeLifecycleError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, ServerIPResponse{ServerIPAddress: addr.String()})
}
