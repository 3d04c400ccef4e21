package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// ObjectResponse is one object with its current state.
type ObjectResponse struct {
	object.Object
	State *object.State `json:"state,omitempty"`
}

// SetStateRequest is the body of PUT /objects/{id}/state.
type SetStateRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleListObjects returns all objects, optionally filtered by ?prefix=.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.registry.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.logger.Error("listing objects failed", "error", err)
		writeInternalError(w, "failed to list objects")
		return
	}

	resp := make([]ObjectResponse, 0, len(objects))
	for _, obj := range objects {
		resp = append(resp, s.withState(r, obj))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": resp,
		"count":   len(resp),
	})
}

// handleGetObject returns one object with its current state.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id := objectIDParam(r)
	obj, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, object.ErrObjectNotFound) {
			writeNotFound(w, "object not found")
			return
		}
		s.logger.Error("getting object failed", "id", id, "error", err)
		writeInternalError(w, "failed to get object")
		return
	}
	writeJSON(w, http.StatusOK, s.withState(r, *obj))
}

// handleSetObjectState stores an unacknowledged value. The bridge picks the
// change up and writes it to the device; the confirmed value arrives later
// with ack=true.
func (s *Server) handleSetObjectState(w http.ResponseWriter, r *http.Request) {
	id := objectIDParam(r)

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	status, code, msg := s.setState(r.Context(), id, value)
	if status != http.StatusAccepted {
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"value":  value,
		"status": "pending",
	})
}

// setState validates and stores a requested change. It is shared with the
// WebSocket "set" message.
func (s *Server) setState(ctx context.Context, id string, value any) (status int, code, message string) {
	obj, err := s.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, object.ErrObjectNotFound) {
			return http.StatusNotFound, ErrCodeNotFound, "object not found"
		}
		return http.StatusInternalServerError, ErrCodeInternal, "failed to get object"
	}
	if !obj.IsParameter() || !obj.Common.Write {
		return http.StatusConflict, ErrCodeReadOnly, "object is read-only"
	}

	if err := s.registry.SetValue(ctx, id, value, false); err != nil {
		if errors.Is(err, object.ErrInvalidObject) {
			return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
		}
		s.logger.Error("setting object state failed", "id", id, "error", err)
		return http.StatusInternalServerError, ErrCodeInternal, "failed to set state"
	}

	s.logger.Info("state change requested", "id", id, "request_id", ctx.Value(ctxKeyRequestID))
	return http.StatusAccepted, "", ""
}

func (s *Server) withState(r *http.Request, obj object.Object) ObjectResponse {
	resp := ObjectResponse{Object: obj}
	if st, err := s.registry.GetState(r.Context(), obj.ID); err == nil {
		resp.State = st
	}
	return resp
}

// handleSync triggers an immediate sync cycle.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge not running")
		return
	}
	if err := s.bridge.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// objectIDParam returns the decoded {id}. Object ids contain spaces and
// parentheses, which chi matches against the raw path when one is set.
func objectIDParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		if decoded, err := url.PathUnescape(id); err == nil {
			return decoded
		}
	}
	return id
}
