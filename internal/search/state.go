// Package search holds the dual-slice search state: independent people and
// company filter sets, each with its own page, results and error, driven
// by a pure reducer.
package search

import "github.com/xaenox/icp-bot/internal/models"

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// Slice is one filtered, paginated search context.
type Slice[R any] struct {
	Filters     models.Filters      `json:"filters"`
	Page        int                 `json:"page"`
	PerPage     int                 `json:"perPage"`
	Results     []R                 `json:"results"`
	Pagination  *models.Pagination  `json:"pagination,omitempty"`
	Breadcrumbs []models.Breadcrumb `json:"breadcrumbs"`
	SearchID    string              `json:"searchId,omitempty"`
	Loading     bool                `json:"loading"`
	Error       string              `json:"error,omitempty"`

	// Seq identifies the most recently started search. Responses that
	// carry an older value are stale.
	Seq uint64 `json:"-"`
}

func newSlice[R any]() Slice[R] {
	return Slice[R]{
		Filters:     models.Filters{},
		Page:        1,
		PerPage:     DefaultPerPage,
		Results:     []R{},
		Breadcrumbs: []models.Breadcrumb{},
	}
}

// withFilters returns s with a fresh filter map, back on page 1.
func (s Slice[R]) withFilters(f models.Filters) Slice[R] {
	s.Filters = f
	s.Page = 1
	return s
}

func (s Slice[R]) clearResults() Slice[R] {
	s.Results = []R{}
	s.Pagination = nil
	s.Breadcrumbs = []models.Breadcrumb{}
	s.SearchID = ""
	s.Error = ""
	return s
}

func (s Slice[R]) canGoNext() bool {
	if s.Pagination == nil {
		return false
	}
	return s.Pagination.HasMore || s.Pagination.Page < s.Pagination.TotalPages
}

func (s Slice[R]) canGoPrev() bool {
	return s.Page > 1
}

type State struct {
	SearchType models.SearchType     `json:"searchType"`
	People     Slice[models.Lead]    `json:"people"`
	Company    Slice[models.Company] `json:"company"`
	RateLimit  *models.RateLimitInfo `json:"rateLimit,omitempty"`
}

func NewState() State {
	return State{
		SearchType: models.SearchPeople,
		People:     newSlice[models.Lead](),
		Company:    newSlice[models.Company](),
	}
}

// Clone copies the filter maps so the result can be handed out freely.
func (s State) Clone() State {
	s.People.Filters = s.People.Filters.Clone()
	s.Company.Filters = s.Company.Filters.Clone()
	return s
}

// ActiveFilters returns the filters of the slice selected by SearchType.
func (s State) ActiveFilters() models.Filters {
	if s.SearchType == models.SearchCompany {
		return s.Company.Filters
	}
	return s.People.Filters
}

func (s State) ActivePage() int {
	if s.SearchType == models.SearchCompany {
		return s.Company.Page
	}
	return s.People.Page
}

// Pagination returns the active slice's last pagination descriptor.
func (s State) Pagination() *models.Pagination {
	if s.SearchType == models.SearchCompany {
		return s.Company.Pagination
	}
	return s.People.Pagination
}

func (s State) Loading() bool {
	if s.SearchType == models.SearchCompany {
		return s.Company.Loading
	}
	return s.People.Loading
}

func (s State) Error() string {
	if s.SearchType == models.SearchCompany {
		return s.Company.Error
	}
	return s.People.Error
}

func (s State) HasActiveFilters() bool {
	return !s.ActiveFilters().IsEmpty()
}

func (s State) CanGoNext() bool {
	if s.SearchType == models.SearchCompany {
		return s.Company.canGoNext()
	}
	return s.People.canGoNext()
}

func (s State) CanGoPrev() bool {
	if s.SearchType == models.SearchCompany {
		return s.Company.canGoPrev()
	}
	return s.People.canGoPrev()
}
