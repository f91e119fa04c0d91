package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a classified error as {kind, message, details?}. Internal
// failures are logged; their cause never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, apperr.HTTPStatus(kind), apperr.Public(err))
}

// decodeJSON decodes a size-limited JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body: " + err.Error())
	}
	if dec.More() {
		return apperr.Validation("request body must contain a single JSON object")
	}
	return nil
}

// requestTenant returns the authenticated tenant, falling back to the
// tenant_id query parameter.
func requestTenant(r *http.Request) (string, error) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if err := middleware.ValidateTenantID(tenantID); err != nil {
		return "", apperr.Validation(err.Error())
	}
	return tenantID, nil
}

// pathID validates a URL path parameter.
func pathID(field, id string) error {
	if err := middleware.ValidatePathID(field, id); err != nil {
		return apperr.Validation(err.Error())
	}
	return nil
}
