package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/registry"
)

// Helper to respond with JSON
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, action string, err error) {
	respondJSON(w, status, map[string]any{
		"error":  err.Error(),
		"action": action,
	})
}

// statusFor 将领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var idxErr *registry.IndexError
	switch {
	case errors.As(err, &idxErr):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrUnknownSubscription):
		return http.StatusNotFound
	case errors.Is(err, client.ErrBusy),
		errors.Is(err, client.ErrNoSubscriptions), errors.Is(err, registry.ErrNoNodes):
		return http.StatusConflict
	case errors.Is(err, client.ErrNoReachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
