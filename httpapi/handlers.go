package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	memori "github.com/memorilabs/memori"
)

type handler struct {
	orc *memori.Orchestrator
}

type recordTurnRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	UserInput string         `json:"user_input"`
	AIOutput  string         `json:"ai_output"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type recordTurnResponse struct {
	TurnID string `json:"turn_id"`
}

func (h *handler) RecordTurn(w http.ResponseWriter, r *http.Request) {
	var req recordTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.orc.RecordSession(req.SessionID, req.UserInput, req.AIOutput, req.Model, req.Metadata)
	if err != nil {
		if errors.Is(err, memori.ErrNothingToRecord) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record turn")
		return
	}

	writeJSON(w, http.StatusCreated, recordTurnResponse{TurnID: id.String()})
}

type searchResponse struct {
	Results []memori.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

func (h *handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := h.orc.Search(r.Context(), query, limit)
	if err != nil {
		if errors.Is(err, memori.ErrQueryRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	if results == nil {
		results = []memori.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

func (h *handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) Clear(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")

	if err := h.orc.Clear(r.Context(), kind); err != nil {
		if errors.Is(err, memori.ErrUnknownClearKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to clear memory")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type augmentRequest struct {
	SessionID string           `json:"session_id,omitempty"`
	Messages  []memori.Message `json:"messages"`
	Query     string           `json:"query,omitempty"`
}

type augmentResponse struct {
	Messages []memori.Message `json:"messages"`
}

func (h *handler) Augment(w http.ResponseWriter, r *http.Request) {
	var req augmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out := h.orc.AddToMessages(r.Context(), req.SessionID, req.Messages, req.Query)
	writeJSON(w, http.StatusOK, augmentResponse{Messages: out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
