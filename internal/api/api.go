// Package api exposes the agent's control surface over HTTP: call control,
// device selection, session status, call history, and a WebSocket feed of
// user-facing notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/airdial/airdial/internal/cdr"
	"github.com/airdial/airdial/internal/notify"
	"github.com/airdial/airdial/internal/session"
	"github.com/airdial/airdial/pkg/audio/device"
)

// SessionController is the call-control surface the API drives.
// Implemented by [session.Controller].
type SessionController interface {
	Initialize(ctx context.Context) error
	Dial(ctx context.Context, to string) error
	Hangup() error
	SetMuted(muted bool) error
	SendDigits(digits string) error
	SetInputDevice(id string) error
	SetSpeakerDevice(id string) error
	TestSpeaker(ctx context.Context) error
	InputLevel() float64
	Status() session.Status
}

// DeviceLister enumerates selectable audio devices.
// Implemented by [device.Enumerator].
type DeviceLister interface {
	ListInputDevices(ctx context.Context) []device.Descriptor
	ListOutputDevices(ctx context.Context) []device.Descriptor
}

// Server handles the control-API routes.
type Server struct {
	ctrl     SessionController
	devices  DeviceLister
	records  cdr.Store
	notifier *notify.Notifier
	log      *slog.Logger
}

// New creates the control-API server. records may be nil when call history
// is disabled.
func New(ctrl SessionController, devices DeviceLister, records cdr.Store, notifier *notify.Notifier, log *slog.Logger) *Server {
	return &Server{
		ctrl:     ctrl,
		devices:  devices,
		records:  records,
		notifier: notifier,
		log:      log,
	}
}

// Register mounts all control routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/initialize", s.handleInitialize)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/calls", s.handleDial)
	mux.HandleFunc("GET /v1/calls", s.handleHistory)
	mux.HandleFunc("DELETE /v1/calls/active", s.handleHangup)
	mux.HandleFunc("POST /v1/calls/active/mute", s.handleMute)
	mux.HandleFunc("POST /v1/calls/active/dtmf", s.handleDTMF)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("POST /v1/devices/input", s.handleSetInput)
	mux.HandleFunc("POST /v1/devices/output", s.handleSetOutput)
	mux.HandleFunc("POST /v1/devices/output/test", s.handleTestSpeaker)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Initialize(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     st,
		InputLevel: s.ctrl.InputLevel(),
	})
}

type statusResponse struct {
	session.Status
	InputLevel float64 `json:"inputLevel"`
}

type dialRequest struct {
	To string `json:"to"`
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing destination number"))
		return
	}
	if err := s.ctrl.Dial(r.Context(), req.To); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeJSON(w, http.StatusOK, []cdr.Record{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := s.records.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("call history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("call history unavailable"))
		return
	}
	if records == nil {
		records = []cdr.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Hangup(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.SetMuted(req.Muted); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type dtmfRequest struct {
	Digits string `json:"digits"`
}

func (s *Server) handleDTMF(w http.ResponseWriter, r *http.Request) {
	var req dtmfRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Digits == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing digits"))
		return
	}
	if err := s.ctrl.SendDigits(req.Digits); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sent": req.Digits})
}

type deviceListResponse struct {
	Inputs  []device.Descriptor `json:"inputs"`
	Outputs []device.Descriptor `json:"outputs"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceListResponse{
		Inputs:  s.devices.ListInputDevices(r.Context()),
		Outputs: s.devices.ListOutputDevices(r.Context()),
	})
}

type selectDeviceRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing device id"))
		return
	}
	if err := s.ctrl.SetInputDevice(req.ID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"input": req.ID})
}

func (s *Server) handleSetOutput(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing device id"))
		return
	}
	if err := s.ctrl.SetSpeakerDevice(req.ID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": req.ID})
}

func (s *Server) handleTestSpeaker(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.TestSpeaker(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- helpers ----

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
