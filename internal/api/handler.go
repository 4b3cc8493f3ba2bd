// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the inbound HTTP calls of the mail pipeline: project
// update events from the surrounding application, queue drains from an
// external invoker, direct sends, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agencyops/mailflow/internal/sender"
	"github.com/agencyops/mailflow/internal/trigger"
)

// maxBodyBytes caps request bodies; templates and field maps are small.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Triggers is implemented by trigger.Engine.
type Triggers interface {
	ProcessTriggers(ctx context.Context, projectID int64, updated, old map[string]any) ([]int64, error)
	QueueManual(ctx context.Context, req trigger.ManualRequest) (int64, error)
}

// Delivery is implemented by sender.Worker.
type Delivery interface {
	Drain(ctx context.Context) (*sender.DrainResult, error)
	SendDirect(ctx context.Context, req sender.DirectRequest) error
}

// Dedup is implemented by dedup.Filter.
type Dedup interface {
	IsNew(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// IdentityCache is implemented by identity.Resolver.
type IdentityCache interface {
	Invalidate(ctx context.Context) error
}

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProjectUpdatedEvent is the body of POST /events/project-updated.
// A non-empty EventID makes redelivery of the same event a no-op.
type ProjectUpdatedEvent struct {
	EventID       string         `json:"event_id"`
	ProjectID     int64          `json:"project_id" validate:"gt=0"`
	UpdatedFields map[string]any `json:"updated_fields"`
	OldValues     map[string]any `json:"old_values"`
}

type directRequest struct {
	ProjectID int64    `validate:"gt=0"`
	To        string   `validate:"required,email"`
	CC        []string `validate:"dive,email"`
	Subject   string   `validate:"required"`
	Body      string   `validate:"required"`
}

// Handler routes the pipeline's HTTP surface.
type Handler struct {
	triggers Triggers
	delivery Delivery
	dedup    Dedup
	idcache  IdentityCache
	checks   map[string]Pinger
	metrics  http.Handler
}

// HandlerConfig holds dependencies for the handler.
type HandlerConfig struct {
	Triggers Triggers
	Delivery Delivery
	Dedup    Dedup // optional
	// Identities serves POST /identities/cache/flush. Nil disables the route.
	Identities IdentityCache
	// Checks maps a dependency name ("postgres", "redis") to its health check.
	Checks map[string]Pinger
	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		triggers: cfg.Triggers,
		delivery: cfg.Delivery,
		dedup:    cfg.Dedup,
		idcache:  cfg.Identities,
		checks:   cfg.Checks,
		metrics:  cfg.Metrics,
	}
}

// Routes returns the mux serving every endpoint.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/project-updated", h.ServeProjectUpdated)
	mux.HandleFunc("POST /queue/drain", h.ServeDrain)
	mux.HandleFunc("POST /queue/manual", h.ServeManual)
	mux.HandleFunc("POST /send", h.ServeSend)
	mux.HandleFunc("GET /health", h.ServeHealth)
	if h.idcache != nil {
		mux.HandleFunc("POST /identities/cache/flush", h.ServeFlushIdentities)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

// ServeProjectUpdated evaluates triggers for a changed project and returns
// the ids of entries now awaiting confirmation.
func (h *Handler) ServeProjectUpdated(w http.ResponseWriter, r *http.Request) {
	var ev ProjectUpdatedEvent
	if !decode(w, r, &ev) {
		return
	}
	if err := validate.Struct(ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !h.firstDelivery(r.Context(), ev.EventID) {
		slog.Info("duplicate project event ignored", "event_id", ev.EventID, "project_id", ev.ProjectID)
		writeJSON(w, http.StatusOK, map[string]any{"confirmation_ids": []int64{}, "duplicate": true})
		return
	}

	ids, err := h.triggers.ProcessTriggers(r.Context(), ev.ProjectID, ev.UpdatedFields, ev.OldValues)
	if err != nil {
		h.forget(r.Context(), ev.EventID)
	}
	switch {
	case errors.Is(err, trigger.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		slog.Error("process triggers failed", "project_id", ev.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"confirmation_ids": ids})
}

// firstDelivery reports whether eventID should be processed. Dedup
// failures let the event through.
func (h *Handler) firstDelivery(ctx context.Context, eventID string) bool {
	if h.dedup == nil || eventID == "" {
		return true
	}
	isNew, err := h.dedup.IsNew(ctx, eventID)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "event_id", eventID, "error", err)
		return true
	}
	return isNew
}

func (h *Handler) forget(ctx context.Context, eventID string) {
	if h.dedup == nil || eventID == "" {
		return
	}
	if err := h.dedup.Forget(ctx, eventID); err != nil {
		slog.Warn("dedup forget failed", "event_id", eventID, "error", err)
	}
}

// ServeFlushIdentities drops cached identity resolutions after mail
// identities were edited.
func (h *Handler) ServeFlushIdentities(w http.ResponseWriter, r *http.Request) {
	if err := h.idcache.Invalidate(r.Context()); err != nil {
		slog.Error("identity cache flush failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeDrain runs one queue drain and returns its summary. The drain
// outlives a disconnecting caller.
func (h *Handler) ServeDrain(w http.ResponseWriter, r *http.Request) {
	result, err := h.delivery.Drain(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, sender.ErrDrainInProgress):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		slog.Error("queue drain failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

// ServeManual queues an operator-written message.
func (h *Handler) ServeManual(w http.ResponseWriter, r *http.Request) {
	var req trigger.ManualRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.triggers.QueueManual(r.Context(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slog.Error("queue manual entry failed", "project_id", req.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// ServeSend delivers a message synchronously. Delivery failures surface as
// 502 with the transport's error.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	var req sender.DirectRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(directRequest(req)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.delivery.SendDirect(r.Context(), req); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// ServeHealth pings every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s unhealthy", name))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// NewServer wraps handler in an http.Server listening on port.
func NewServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Drains and direct sends wait on SMTP servers.
		WriteTimeout: 5 * time.Minute,
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
