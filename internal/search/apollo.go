package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/models"
)

const (
	DefaultApolloBaseURL = "https://api.apollo.io/v1"

	peopleSearchPath  = "/mixed_people/search"
	companySearchPath = "/mixed_companies/search"

	defaultApolloTimeout = 30 * time.Second
	defaultMaxRetryWait  = time.Minute
)

var (
	ErrApolloAuth        = errors.New("apollo authentication failed, check the API key")
	ErrApolloForbidden   = errors.New("apollo access forbidden, check the subscription plan")
	ErrApolloRateLimited = errors.New("apollo rate limit exceeded")
	ErrApolloUnavailable = errors.New("apollo is experiencing issues")
)

type ApolloConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// MaxRetryWait caps the Retry-After delay honored on a 429 before the
	// single retry.
	MaxRetryWait time.Duration
}

// ApolloSearcher is a Searcher backed by the Apollo.io REST API.
type ApolloSearcher struct {
	apiKey       string
	baseURL      string
	maxRetryWait time.Duration
	client       *http.Client
	now          func() time.Time
	logger       *zap.Logger

	mu        sync.Mutex
	rateLimit *models.RateLimitInfo
}

func NewApolloSearcher(cfg ApolloConfig, logger *zap.Logger) (*ApolloSearcher, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("apollo API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultApolloBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultApolloTimeout
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = defaultMaxRetryWait
	}

	return &ApolloSearcher{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		maxRetryWait: cfg.MaxRetryWait,
		client:       &http.Client{Timeout: cfg.Timeout},
		now:          time.Now,
		logger:       logger,
	}, nil
}

// RateLimit returns the quota reported by the most recent response.
func (a *ApolloSearcher) RateLimit() *models.RateLimitInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rateLimit == nil {
		return nil
	}
	info := *a.rateLimit
	return &info
}

type apolloPagination struct {
	Page         int   `json:"page"`
	PerPage      int   `json:"per_page"`
	TotalEntries int   `json:"total_entries"`
	TotalPages   int   `json:"total_pages"`
	HasMore      *bool `json:"has_more"`
}

type apolloOrganization struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	WebsiteURL             string   `json:"website_url"`
	PrimaryDomain          string   `json:"primary_domain"`
	Industry               string   `json:"industry"`
	EstimatedNumEmployees  int      `json:"estimated_num_employees"`
	EstimatedAnnualRevenue float64  `json:"estimated_annual_revenue"`
	AnnualRevenue          float64  `json:"annual_revenue"`
	FoundedYear            int      `json:"founded_year"`
	City                   string   `json:"city"`
	Country                string   `json:"country"`
	Keywords               []string `json:"keywords"`
}

type apolloPerson struct {
	ID             string              `json:"id"`
	FirstName      string              `json:"first_name"`
	LastName       string              `json:"last_name"`
	Name           string              `json:"name"`
	Title          string              `json:"title"`
	Seniority      string              `json:"seniority"`
	Email          string              `json:"email"`
	EmailStatus    string              `json:"email_status"`
	LinkedInURL    string              `json:"linkedin_url"`
	City           string              `json:"city"`
	State          string              `json:"state"`
	Country        string              `json:"country"`
	OrganizationID string              `json:"organization_id"`
	Organization   *apolloOrganization `json:"organization"`
}

type apolloPeopleResponse struct {
	People      []apolloPerson      `json:"people"`
	Pagination  apolloPagination    `json:"pagination"`
	Breadcrumbs []models.Breadcrumb `json:"breadcrumbs"`
	SearchID    string              `json:"search_id"`
}

type apolloCompanyResponse struct {
	Organizations []apolloOrganization `json:"organizations"`
	Pagination    apolloPagination     `json:"pagination"`
	Breadcrumbs   []models.Breadcrumb  `json:"breadcrumbs"`
	SearchID      string               `json:"search_id"`
}

func (a *ApolloSearcher) SearchPeople(ctx context.Context, q Query) (*PeoplePage, error) {
	var resp apolloPeopleResponse
	if err := a.post(ctx, peopleSearchPath, PeopleParams(q), &resp); err != nil {
		return nil, err
	}

	leads := make([]models.Lead, 0, len(resp.People))
	for _, p := range resp.People {
		lead := models.Lead{
			ID:             p.ID,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			FullName:       p.Name,
			Title:          p.Title,
			Seniority:      p.Seniority,
			Email:          p.Email,
			EmailStatus:    p.EmailStatus,
			LinkedInURL:    p.LinkedInURL,
			City:           p.City,
			State:          p.State,
			Country:        p.Country,
			OrganizationID: p.OrganizationID,
		}
		if lead.FullName == "" {
			lead.FullName = strings.TrimSpace(p.FirstName + " " + p.LastName)
		}
		if p.Organization != nil {
			lead.OrganizationName = p.Organization.Name
			if lead.OrganizationID == "" {
				lead.OrganizationID = p.Organization.ID
			}
		}
		leads = append(leads, lead)
	}

	a.logger.Debug("Apollo people search completed",
		zap.Int("results", len(leads)),
		zap.Int("total_entries", resp.Pagination.TotalEntries))

	return &PeoplePage{
		Leads:       leads,
		Pagination:  toPagination(resp.Pagination, q),
		Breadcrumbs: nonNil(resp.Breadcrumbs),
		SearchID:    a.searchID(resp.SearchID, "people"),
		RateLimit:   a.RateLimit(),
	}, nil
}

func (a *ApolloSearcher) SearchCompanies(ctx context.Context, q Query) (*CompanyPage, error) {
	var resp apolloCompanyResponse
	if err := a.post(ctx, companySearchPath, CompanyParams(q), &resp); err != nil {
		return nil, err
	}

	companies := make([]models.Company, 0, len(resp.Organizations))
	for _, o := range resp.Organizations {
		companies = append(companies, toCompany(o))
	}

	a.logger.Debug("Apollo company search completed",
		zap.Int("results", len(companies)),
		zap.Int("total_entries", resp.Pagination.TotalEntries))

	return &CompanyPage{
		Companies:   companies,
		Pagination:  toPagination(resp.Pagination, q),
		Breadcrumbs: nonNil(resp.Breadcrumbs),
		SearchID:    a.searchID(resp.SearchID, "company"),
		RateLimit:   a.RateLimit(),
	}, nil
}

func (a *ApolloSearcher) post(ctx context.Context, path string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode apollo params: %w", err)
	}

	resp, err := a.do(ctx, path, body)
	if err != nil {
		return err
	}

	// A single retry after the advertised wait, as Apollo asks for.
	if resp.StatusCode == http.StatusTooManyRequests {
		wait, ok := retryAfter(resp.Header)
		resp.Body.Close()
		if !ok {
			return ErrApolloRateLimited
		}
		wait = min(wait, a.maxRetryWait)
		a.logger.Warn("Apollo rate limit hit, retrying once", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if resp, err = a.do(ctx, path, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		a.logger.Error("Apollo request failed", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Error(err))
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode apollo response: %w", err)
	}
	return nil
}

func (a *ApolloSearcher) do(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create apollo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("x-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to reach apollo: %w", err)
	}
	a.updateRateLimit(resp.Header)
	return resp, nil
}

func (a *ApolloSearcher) updateRateLimit(h http.Header) {
	remaining := h.Get("x-ratelimit-remaining")
	if remaining == "" {
		return
	}

	info := models.RateLimitInfo{
		RemainingRequests: atoi(remaining),
		ResetTime:         a.now().UTC(),
		DailyLimit:        atoi(h.Get("x-daily-limit")),
		DailyUsed:         atoi(h.Get("x-daily-used")),
	}
	if reset, err := strconv.ParseInt(h.Get("x-ratelimit-reset"), 10, 64); err == nil {
		info.ResetTime = time.Unix(reset, 0).UTC()
	}

	a.mu.Lock()
	a.rateLimit = &info
	a.mu.Unlock()
}

func (a *ApolloSearcher) searchID(id, kind string) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s_search_%d", kind, a.now().UnixMilli())
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized:
		return ErrApolloAuth
	case http.StatusForbidden:
		return ErrApolloForbidden
	case http.StatusTooManyRequests:
		return ErrApolloRateLimited
	case http.StatusInternalServerError:
		return ErrApolloUnavailable
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &payload)
	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("apollo error %d: %s", resp.StatusCode, msg)
}

func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		v = h.Get("x-ratelimit-reset")
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func toPagination(p apolloPagination, q Query) models.Pagination {
	out := models.Pagination{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalEntries: p.TotalEntries,
		TotalPages:   p.TotalPages,
	}
	if out.Page == 0 {
		out.Page = max(q.Page, 1)
	}
	if out.PerPage == 0 {
		out.PerPage = perPage(q)
	}
	if p.HasMore != nil {
		out.HasMore = *p.HasMore
	} else {
		out.HasMore = out.Page < out.TotalPages
	}
	return out
}

func toCompany(o apolloOrganization) models.Company {
	revenue := o.EstimatedAnnualRevenue
	if revenue == 0 {
		revenue = o.AnnualRevenue
	}
	return models.Company{
		ID:                 o.ID,
		Name:               o.Name,
		WebsiteURL:         o.WebsiteURL,
		PrimaryDomain:      o.PrimaryDomain,
		Industry:           o.Industry,
		EstimatedEmployees: o.EstimatedNumEmployees,
		AnnualRevenue:      revenue,
		FoundedYear:        o.FoundedYear,
		City:               o.City,
		Country:            o.Country,
		Keywords:           o.Keywords,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
