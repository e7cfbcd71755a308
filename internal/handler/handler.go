// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Shivanand-hulikatti/teamsignups/internal/arbiter"
	"github.com/Shivanand-hulikatti/teamsignups/internal/logger"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/Shivanand-hulikatti/teamsignups/internal/service"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxBodyBytes matches the ceiling the first version of the API used.
const DefaultMaxBodyBytes = 1_000_000

// SignupService is the subset of service.SignupService the handlers use.
type SignupService interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	ReplaceEvents(ctx context.Context, events []model.Event) error
	CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	ClaimSlot(ctx context.Context, eventID, slotID string, c model.Claimant) (*service.ClaimResult, error)
	RemoveClaim(ctx context.Context, eventID, slotID, claimID string) error
	ExportCSV(ctx context.Context) ([]byte, error)
	Status(ctx context.Context) service.StorageStatus
}

// EventHandler holds all HTTP handlers for the sign-up API.
type EventHandler struct {
	svc          SignupService
	log          *logger.Logger
	maxBodyBytes int64
}

// NewEventHandler constructs an EventHandler. maxBodyBytes <= 0 selects
// DefaultMaxBodyBytes.
func NewEventHandler(svc SignupService, log *logger.Logger, maxBodyBytes int64) *EventHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &EventHandler{svc: svc, log: log, maxBodyBytes: maxBodyBytes}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

type validationResponse struct {
	Error  string               `json:"error"`
	Fields []arbiter.FieldError `json:"fields"`
}

type fullResponse struct {
	Error     string `json:"error"`
	Remaining int    `json:"remaining"`
}

type replaceRequest struct {
	Events *[]model.Event `json:"events"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

var errTrailingData = errors.New("unexpected data after JSON body")

func (h *EventHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// writeDecodeError reports a body that could not be decoded. Nothing has
// touched the store at this point.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
}

// writeServiceError maps service errors to status codes. Storage failures
// are logged and reported without internal detail.
func (h *EventHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, service.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, service.ErrClaimNotFound):
		writeError(w, http.StatusNotFound, "claim not found")
	case errors.Is(err, service.ErrSlotFull):
		writeJSON(w, http.StatusConflict, fullResponse{Error: "slot is full", Remaining: 0})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, service.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "storage is unavailable, please try again later")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// ListEvents handles GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.log.Error("list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, model.Document{Events: events})
}

// ReplaceEvents handles PUT /api/events
// Replaces the whole snapshot with the submitted document.
func (h *EventHandler) ReplaceEvents(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Events == nil {
		writeError(w, http.StatusBadRequest, "invalid request body: events array is required")
		return
	}
	if err := h.svc.ReplaceEvents(r.Context(), *req.Events); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// CreateEvent handles POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// DeleteEvent handles DELETE /api/events/{eventID}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEvent(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// ClaimSlot handles POST /api/events/{eventID}/slots/{slotID}/claims
// Performs a serialized claim against the slot's remaining capacity.
func (h *EventHandler) ClaimSlot(w http.ResponseWriter, r *http.Request) {
	var c model.Claimant
	if err := h.decodeJSON(w, r, &c); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := h.svc.ClaimSlot(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "slotID"), c)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RemoveClaim handles DELETE /api/events/{eventID}/slots/{slotID}/claims/{claimID}
func (h *EventHandler) RemoveClaim(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveClaim(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "slotID"), chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// ExportCSV handles GET /api/events.csv
func (h *EventHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ExportCSV(r.Context())
	if err != nil {
		h.log.Error("export csv failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// Status handles GET /api/status
func (h *EventHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status(r.Context())
	code := http.StatusOK
	if !st.Online {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MethodNotAllowed answers unsupported methods with a JSON body.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// NotFound answers unknown API routes with a JSON body.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
