package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/rules"
)

const maxBodyBytes = 32 << 20 // 32 MB; image payloads arrive base64-encoded

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "clipvault",
		"version":          s.version,
		"sanitize_enabled": s.config.Sanitize.Enabled,
		"capture_enabled":  s.config.Capture.Enabled,
		"storage_driver":   s.config.Storage.Driver,
		"rules":            len(s.library.Rules()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.Stats()
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"history": stats,
	}
	if s.hub != nil {
		hubStats := s.hub.GetStats()
		resp["events"] = map[string]interface{}{
			"active_connections": hubStats.ActiveConnections,
			"total_connections":  hubStats.TotalConnections,
			"total_broadcasts":   hubStats.TotalBroadcasts,
			"dropped_events":     hubStats.DroppedEvents,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	views, err := s.history.List(limit, offset)
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  views,
		"count":  len(views),
		"limit":  limit,
		"offset": offset,
	})
}

// addItemRequest carries exactly one content branch
type addItemRequest struct {
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Text == "") == (req.ImageBase64 == "") {
		writeError(w, http.StatusBadRequest, "exactly one of text or image_base64 is required")
		return
	}

	var view history.ItemView
	var err error
	if req.Text != "" {
		view, err = s.history.AddText(req.Text, "api")
	} else {
		var data []byte
		data, err = base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 image data")
			return
		}
		view, err = s.history.AddImage(data, "api")
	}
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	detail, err := s.history.Get(id)
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := s.history.Delete(id); err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	data, err := s.history.Image(id)
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	data, err := rules.Export(s.library.Rules())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export rules")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportRules replaces the user rule set from a versioned envelope.
// Malformed payloads are rejected whole; nothing is partially applied.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	imported, err := rules.Import(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.library.SetRules(imported)

	if path := s.config.Sanitize.RulesFile; path != "" {
		if normalized, err := rules.Export(s.library.Rules()); err == nil {
			if err := os.WriteFile(path, normalized, 0o644); err != nil {
				s.logger.WithRequestID(getRequestID(r.Context())).Warn("Failed to write rules file",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": len(imported),
	})
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, true)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, false)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := mux.Vars(r)["name"]
	var err error
	if enabled {
		err = s.library.EnableRule(name)
	} else {
		err = s.library.DisableRule(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":    name,
		"enabled": enabled,
	})
}

// handlePressure lets operators inject a pressure level, exercising the
// same lifecycle path as the monitored signal.
func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level, err := pressure.ParseLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.inject == nil {
		writeError(w, http.StatusServiceUnavailable, "pressure injection is not wired")
		return
	}
	s.inject(level)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"level": level.String(),
	})
}

// writeHistoryError maps history and item errors onto HTTP statuses
func (s *Server) writeHistoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, history.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "empty clipboard content")
	case errors.Is(err, history.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "history is shutting down")
	case errors.Is(err, item.ErrWrongKind):
		writeError(w, http.StatusBadRequest, "item kind does not support this operation")
	case errors.Is(err, item.ErrImageUnavailable), errors.Is(err, item.ErrTextUnavailable):
		writeError(w, http.StatusGone, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
