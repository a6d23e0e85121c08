// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/diagnostics"
)

// Diagnostics is the aggregator surface the handlers consume.
type Diagnostics interface {
	Health() diagnostics.HealthStatus
	Debug() diagnostics.DebugInfo
	ResetMetrics()
	EmergencyBrake(userID string)
	RunSelfTest(name string) (diagnostics.SelfTestResult, error)
}

// Handler serves the ops endpoints from the diagnostics aggregator.
type Handler struct {
	diag Diagnostics
	log  zerolog.Logger
}

// NewHandler wires the handlers to the aggregator.
func NewHandler(diag Diagnostics, log zerolog.Logger) *Handler {
	return &Handler{diag: diag, log: log}
}

type apiResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp apiResponse) {
	resp.Timestamp = time.Now()
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal response failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.log.Error().Err(err).Msg("write response failed")
	}
}

// Health reports the aggregate health verdict. Unhealthy states answer
// 503 so load balancer probes see them directly.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.diag.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.respond(w, status, apiResponse{Status: "success", Data: health})
}

// Debug dumps the full coordination state.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, apiResponse{Status: "success", Data: h.diag.Debug()})
}

// ResetMetrics zeroes the diagnostic counters.
func (h *Handler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.diag.ResetMetrics()
	h.respond(w, http.StatusOK, apiResponse{Status: "success"})
}

// EmergencyBrake discards all scheduled coordination work for a user.
func (h *Handler) EmergencyBrake(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.respond(w, http.StatusBadRequest, apiResponse{Status: "error", Error: "missing user id"})
		return
	}
	h.diag.EmergencyBrake(userID)
	h.respond(w, http.StatusOK, apiResponse{Status: "success"})
}

// SelfTest runs one named diagnostic scenario.
func (h *Handler) SelfTest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := h.diag.RunSelfTest(name)
	if err != nil {
		var unknown diagnostics.ErrUnknownSelfTest
		if errors.As(err, &unknown) {
			h.respond(w, http.StatusNotFound, apiResponse{Status: "error", Error: err.Error()})
			return
		}
		h.respond(w, http.StatusInternalServerError, apiResponse{Status: "error", Error: err.Error()})
		return
	}

	if !result.Passed {
		h.respond(w, http.StatusInternalServerError, apiResponse{Status: "failed", Data: result})
		return
	}
	h.respond(w, http.StatusOK, apiResponse{Status: "success", Data: result})
}
