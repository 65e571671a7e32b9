// Package api exposes conversation turns and provider searches over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/assistant"
	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/filters"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/search"
	"github.com/xaenox/icp-bot/internal/storage"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Conversations *conversation.Service
	// Searcher may be nil, in which case search endpoints answer 503.
	Searcher search.Searcher
	Logger   *zap.Logger
}

type turnResponse struct {
	Success      bool                     `json:"success"`
	Conversation *conversation.TurnResult `json:"conversation"`
	Intelligence intelligence             `json:"advancedIntelligence"`
}

type intelligence struct {
	HasConflicts       bool   `json:"hasConflicts"`
	NeedsClarification bool   `json:"needsClarification"`
	ConfidenceLevel    string `json:"confidenceLevel"`
}

type searchRequest struct {
	Filters map[string]any `json:"filters"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage"`
}

type searchData struct {
	Results     any                 `json:"results"`
	Filters     models.Filters      `json:"filters"`
	Pagination  models.Pagination   `json:"pagination"`
	Breadcrumbs []models.Breadcrumb `json:"breadcrumbs"`
	SearchID    string              `json:"searchId"`
}

type searchMeta struct {
	TotalResults int                   `json:"totalResults"`
	RateLimit    *models.RateLimitInfo `json:"rateLimit,omitempty"`
}

func (h *Handler) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	var req conversation.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Conversations.ProcessTurn(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		Success:      true,
		Conversation: result,
		Intelligence: intelligence{
			HasConflicts:       len(result.ConflictsDetected) > 0,
			NeedsClarification: len(result.ClarificationNeeded) > 0,
			ConfidenceLevel:    result.ConfidenceLevel,
		},
	})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversation": conv})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Conversations.List(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversationIds": ids})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Search normalizes the posted filters, keeps the fields scoped to the
// requested type and runs one provider search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	searchType := models.SearchType(r.PathValue("type"))
	if !searchType.Valid() {
		writeError(w, http.StatusNotFound, "unknown search type")
		return
	}
	if h.Searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search provider is not configured")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scope := models.ScopePeople
	if searchType == models.SearchCompany {
		scope = models.ScopeCompany
	}
	q := search.Query{
		Filters: filters.Normalize(req.Filters).Scoped(scope),
		Page:    req.Page,
		PerPage: req.PerPage,
	}

	var (
		data      searchData
		count     int
		rateLimit *models.RateLimitInfo
	)
	if searchType == models.SearchCompany {
		page, err := h.Searcher.SearchCompanies(r.Context(), q)
		if err != nil {
			h.writeSearchError(w, searchType, err)
			return
		}
		data = searchData{Results: page.Companies, Pagination: page.Pagination, Breadcrumbs: page.Breadcrumbs, SearchID: page.SearchID}
		count, rateLimit = len(page.Companies), page.RateLimit
	} else {
		page, err := h.Searcher.SearchPeople(r.Context(), q)
		if err != nil {
			h.writeSearchError(w, searchType, err)
			return
		}
		data = searchData{Results: page.Leads, Pagination: page.Pagination, Breadcrumbs: page.Breadcrumbs, SearchID: page.SearchID}
		count, rateLimit = len(page.Leads), page.RateLimit
	}
	data.Filters = q.Filters

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"meta":    searchMeta{TotalResults: count, RateLimit: rateLimit},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrInvalidIntent),
		errors.Is(err, conversation.ErrInvalidSearchType):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, assistant.ErrMalformedProposal):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger().Error("Conversation request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (h *Handler) writeSearchError(w http.ResponseWriter, searchType models.SearchType, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, search.ErrApolloAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, search.ErrApolloForbidden):
		status = http.StatusForbidden
	case errors.Is(err, search.ErrApolloRateLimited):
		status = http.StatusTooManyRequests
	}
	h.logger().Warn("Search failed", zap.String("search_type", string(searchType)), zap.Error(err))
	writeError(w, status, err.Error())
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"failed to encode response"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
