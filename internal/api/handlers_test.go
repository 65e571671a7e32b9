package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/assistant"
	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/search"
	"github.com/xaenox/icp-bot/internal/storage"
)

type stubProposer struct {
	proposal *assistant.Proposal
	err      error
}

func (p stubProposer) Propose(ctx context.Context, req assistant.Request) (*assistant.Proposal, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.proposal, nil
}

type stubSearcher struct {
	lastQuery search.Query
	err       error
}

func (s *stubSearcher) SearchPeople(ctx context.Context, q search.Query) (*search.PeoplePage, error) {
	s.lastQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return &search.PeoplePage{
		Leads:      []models.Lead{{ID: "p1", FullName: "Ada Lovelace"}},
		Pagination: models.Pagination{Page: 1, PerPage: 25, TotalEntries: 1, TotalPages: 1},
		SearchID:   "people_search_1",
		RateLimit:  &models.RateLimitInfo{RemainingRequests: 7},
	}, nil
}

func (s *stubSearcher) SearchCompanies(ctx context.Context, q search.Query) (*search.CompanyPage, error) {
	s.lastQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return &search.CompanyPage{Companies: []models.Company{{ID: "o1", Name: "Acme"}}}, nil
}

func newTestRouter(p assistant.Proposer, s search.Searcher) http.Handler {
	store := storage.NewMemoryStorage(zap.NewNop())
	svc := conversation.NewService(store, p, zap.NewNop())
	return NewRouter(&Handler{Conversations: svc, Searcher: s, Logger: zap.NewNop()})
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload), res.Body.String())
	return res, payload
}

func ctoProposal() *assistant.Proposal {
	return &assistant.Proposal{
		AssistantMessage:  "Targeting CTOs",
		UpdatedFilters:    map[string]any{"jobTitles": []any{"CTO"}},
		Confidence:        90,
		ConflictsDetected: []string{"startup vs enterprise"},
	}
}

func TestProcessTurnEndpoint(t *testing.T) {
	router := newTestRouter(stubProposer{proposal: ctoProposal()}, nil)

	res, payload := do(t, router, http.MethodPost, "/v1/conversations", `{"userMessage": "CTOs please", "userId": "u1"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, payload["success"])

	conv := payload["conversation"].(map[string]any)
	assert.Equal(t, "Targeting CTOs", conv["assistantMessage"])
	assert.Equal(t, "high", conv["confidenceLevel"])
	assert.Equal(t, []any{"CTO"}, conv["updatedFilters"].(map[string]any)["jobTitles"])

	intel := payload["advancedIntelligence"].(map[string]any)
	assert.Equal(t, true, intel["hasConflicts"])
	assert.Equal(t, false, intel["needsClarification"])

	id := conv["conversationId"].(string)
	res, payload = do(t, router, http.MethodGet, "/v1/conversations/"+id, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotNil(t, payload["conversation"])

	res, payload = do(t, router, http.MethodGet, "/v1/conversations?userId=u1", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []any{id}, payload["conversationIds"])

	res, _ = do(t, router, http.MethodDelete, "/v1/conversations/"+id, "")
	require.Equal(t, http.StatusOK, res.Code)

	res, _ = do(t, router, http.MethodGet, "/v1/conversations/"+id, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestProcessTurnDropsNonFiniteNumbers(t *testing.T) {
	router := newTestRouter(stubProposer{proposal: &assistant.Proposal{
		AssistantMessage: "Targeting CTOs",
		UpdatedFilters:   map[string]any{"revenueMin": "NaN", "revenueMax": "Inf", "jobTitles": []any{"CTO"}},
		Confidence:       90,
	}}, nil)

	res, payload := do(t, router, http.MethodPost, "/v1/conversations", `{"userMessage": "CTOs please"}`)
	require.Equal(t, http.StatusOK, res.Code)

	updated := payload["conversation"].(map[string]any)["updatedFilters"].(map[string]any)
	assert.Equal(t, []any{"CTO"}, updated["jobTitles"])
	assert.NotContains(t, updated, "revenueMin")
	assert.NotContains(t, updated, "revenueMax")
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	res := httptest.NewRecorder()
	writeJSON(res, http.StatusOK, map[string]any{"value": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.JSONEq(t, `{"success":false,"error":"failed to encode response"}`, res.Body.String())
}

func TestProcessTurnErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		proposer assistant.Proposer
		body     string
		want     int
	}{
		{"invalid json", stubProposer{proposal: ctoProposal()}, `{`, http.StatusBadRequest},
		{"empty message", stubProposer{proposal: ctoProposal()}, `{"userMessage": "  "}`, http.StatusBadRequest},
		{"invalid intent", stubProposer{proposal: ctoProposal()}, `{"userMessage": "hi", "intent": "guess"}`, http.StatusBadRequest},
		{"malformed proposal", stubProposer{err: fmt.Errorf("%w: no json", assistant.ErrMalformedProposal)}, `{"userMessage": "hi"}`, http.StatusBadGateway},
		{"version conflict", stubProposer{err: fmt.Errorf("commit: %w", storage.ErrVersionConflict)}, `{"userMessage": "hi"}`, http.StatusConflict},
		{"provider down", stubProposer{err: fmt.Errorf("connection refused")}, `{"userMessage": "hi"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, payload := do(t, newTestRouter(tt.proposer, nil), http.MethodPost, "/v1/conversations", tt.body)
			assert.Equal(t, tt.want, res.Code)
			assert.Equal(t, false, payload["success"])
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	searcher := &stubSearcher{}
	router := newTestRouter(stubProposer{}, searcher)

	res, payload := do(t, router, http.MethodPost, "/v1/search/people",
		`{"filters": {"jobTitles": ["CTO"], "organizationName": "Acme", "companySize": ["51-200"], "page": 9}, "page": 2, "perPage": 10}`)
	require.Equal(t, http.StatusOK, res.Code)

	assert.Equal(t, 2, searcher.lastQuery.Page)
	assert.Equal(t, 10, searcher.lastQuery.PerPage)
	assert.Equal(t, []string{"CTO"}, searcher.lastQuery.Filters.StringList("jobTitles"))
	assert.Equal(t, []string{"51-200"}, searcher.lastQuery.Filters.StringList("companyHeadcount"))
	assert.NotContains(t, searcher.lastQuery.Filters, "organizationName")
	assert.NotContains(t, searcher.lastQuery.Filters, "page")

	data := payload["data"].(map[string]any)
	assert.Len(t, data["results"], 1)
	assert.Equal(t, "people_search_1", data["searchId"])
	meta := payload["meta"].(map[string]any)
	assert.Equal(t, 7.0, meta["rateLimit"].(map[string]any)["remainingRequests"])
}

func TestSearchEndpointErrors(t *testing.T) {
	res, _ := do(t, newTestRouter(stubProposer{}, nil), http.MethodPost, "/v1/search/people", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)

	res, _ = do(t, newTestRouter(stubProposer{}, &stubSearcher{}), http.MethodPost, "/v1/search/accounts", `{}`)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res, _ = do(t, newTestRouter(stubProposer{}, &stubSearcher{err: search.ErrApolloRateLimited}), http.MethodPost, "/v1/search/company", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, res.Code)

	res, _ = do(t, newTestRouter(stubProposer{}, &stubSearcher{err: search.ErrApolloAuth}), http.MethodPost, "/v1/search/company", `{}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHealth(t *testing.T) {
	res, payload := do(t, newTestRouter(stubProposer{}, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", payload["status"])
}
