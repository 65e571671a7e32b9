package search

import (
	"context"

	"github.com/xaenox/icp-bot/internal/models"
)

// Query is one page request against a data provider.
type Query struct {
	Filters models.Filters
	Page    int
	PerPage int
}

type PeoplePage struct {
	Leads       []models.Lead
	Pagination  models.Pagination
	Breadcrumbs []models.Breadcrumb
	SearchID    string
	RateLimit   *models.RateLimitInfo
}

type CompanyPage struct {
	Companies   []models.Company
	Pagination  models.Pagination
	Breadcrumbs []models.Breadcrumb
	SearchID    string
	RateLimit   *models.RateLimitInfo
}

// Searcher executes people and company searches against a data provider.
type Searcher interface {
	SearchPeople(ctx context.Context, q Query) (*PeoplePage, error)
	SearchCompanies(ctx context.Context, q Query) (*CompanyPage, error)
}
