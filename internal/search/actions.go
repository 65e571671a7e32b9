package search

import (
	"github.com/xaenox/icp-bot/internal/filters"
	"github.com/xaenox/icp-bot/internal/models"
)

// Action is a state transition understood by Reduce.
type Action interface {
	action()
}

type SetSearchType struct {
	Type models.SearchType
}

type SetPeopleFilters struct {
	Filters models.Filters
}

type SetCompanyFilters struct {
	Filters models.Filters
}

// UpdatePeopleFilter sets one field of the people filters. A nil Value
// removes the field.
type UpdatePeopleFilter struct {
	Field string
	Value any
}

type UpdateCompanyFilter struct {
	Field string
	Value any
}

// SetPage moves a slice to another page. An empty Type targets the active
// slice.
type SetPage struct {
	Type models.SearchType
	Page int
}

type SetPerPage struct {
	Type    models.SearchType
	PerPage int
}

// ApplyCanonical pushes a conversation's filter snapshot into both slices.
// Each slice receives the fields scoped to it.
type ApplyCanonical struct {
	Filters models.Filters
}

type SearchStarted struct {
	Type models.SearchType
}

type PeopleResults struct {
	Seq         uint64
	Results     []models.Lead
	Pagination  *models.Pagination
	Breadcrumbs []models.Breadcrumb
	SearchID    string
}

type CompanyResults struct {
	Seq         uint64
	Results     []models.Company
	Pagination  *models.Pagination
	Breadcrumbs []models.Breadcrumb
	SearchID    string
}

type SearchFailed struct {
	Type models.SearchType
	Seq  uint64
	Err  string
}

type SetRateLimit struct {
	Info *models.RateLimitInfo
}

type ResetFilters struct{}

type ClearResults struct{}

func (SetSearchType) action()       {}
func (SetPeopleFilters) action()    {}
func (SetCompanyFilters) action()   {}
func (UpdatePeopleFilter) action()  {}
func (UpdateCompanyFilter) action() {}
func (SetPage) action()             {}
func (SetPerPage) action()          {}
func (ApplyCanonical) action()      {}
func (SearchStarted) action()       {}
func (PeopleResults) action()       {}
func (CompanyResults) action()      {}
func (SearchFailed) action()        {}
func (SetRateLimit) action()        {}
func (ResetFilters) action()        {}
func (ClearResults) action()        {}

// Reduce returns the state that follows s after a. It never mutates s.
// Filter changes reset only the targeted slice to page 1, and results or
// failures for a search that is no longer the latest are ignored.
func Reduce(s State, a Action) State {
	s = s.Clone()

	switch a := a.(type) {
	case SetSearchType:
		if a.Type.Valid() {
			s.SearchType = a.Type
		}

	case SetPeopleFilters:
		s.People = s.People.withFilters(a.Filters.Clone())
		s.People.Error = ""
	case SetCompanyFilters:
		s.Company = s.Company.withFilters(a.Filters.Clone())
		s.Company.Error = ""

	case UpdatePeopleFilter:
		s.People = s.People.withFilters(setField(s.People.Filters, a.Field, a.Value))
		s.People.Error = ""
	case UpdateCompanyFilter:
		s.Company = s.Company.withFilters(setField(s.Company.Filters, a.Field, a.Value))
		s.Company.Error = ""

	case SetPage:
		page := max(a.Page, 1)
		if s.target(a.Type) == models.SearchCompany {
			s.Company.Page = page
		} else {
			s.People.Page = page
		}

	case SetPerPage:
		perPage := clampPerPage(a.PerPage)
		if s.target(a.Type) == models.SearchCompany {
			s.Company.PerPage, s.Company.Page = perPage, 1
		} else {
			s.People.PerPage, s.People.Page = perPage, 1
		}

	case ApplyCanonical:
		people := a.Filters.Scoped(models.ScopePeople)
		if len(filters.Diff(s.People.Filters, people)) > 0 {
			s.People = s.People.withFilters(people)
		}
		company := a.Filters.Scoped(models.ScopeCompany)
		if len(filters.Diff(s.Company.Filters, company)) > 0 {
			s.Company = s.Company.withFilters(company)
		}

	case SearchStarted:
		if s.target(a.Type) == models.SearchCompany {
			s.Company.Seq++
			s.Company.Loading, s.Company.Error = true, ""
		} else {
			s.People.Seq++
			s.People.Loading, s.People.Error = true, ""
		}

	case PeopleResults:
		if a.Seq != s.People.Seq {
			break
		}
		s.People.Results = nonNil(a.Results)
		s.People.Pagination = a.Pagination
		s.People.Breadcrumbs = nonNil(a.Breadcrumbs)
		s.People.SearchID = a.SearchID
		s.People.Loading, s.People.Error = false, ""

	case CompanyResults:
		if a.Seq != s.Company.Seq {
			break
		}
		s.Company.Results = nonNil(a.Results)
		s.Company.Pagination = a.Pagination
		s.Company.Breadcrumbs = nonNil(a.Breadcrumbs)
		s.Company.SearchID = a.SearchID
		s.Company.Loading, s.Company.Error = false, ""

	case SearchFailed:
		if s.target(a.Type) == models.SearchCompany {
			if a.Seq == s.Company.Seq {
				s.Company.Loading, s.Company.Error = false, a.Err
			}
		} else if a.Seq == s.People.Seq {
			s.People.Loading, s.People.Error = false, a.Err
		}

	case SetRateLimit:
		if a.Info != nil {
			info := *a.Info
			s.RateLimit = &info
		}

	case ResetFilters:
		next := NewState()
		next.SearchType = s.SearchType
		next.RateLimit = s.RateLimit
		// Bumping the sequences drops any response still in flight.
		next.People.Seq = s.People.Seq + 1
		next.Company.Seq = s.Company.Seq + 1
		s = next

	case ClearResults:
		s.People = s.People.clearResults()
		s.Company = s.Company.clearResults()
		s.People.Seq++
		s.Company.Seq++
		s.People.Loading, s.Company.Loading = false, false
	}

	return s
}

// target resolves an optional slice selector against the active type.
func (s State) target(t models.SearchType) models.SearchType {
	if t.Valid() {
		return t
	}
	return s.SearchType
}

func setField(f models.Filters, field string, value any) models.Filters {
	out := f.Clone()
	if value == nil {
		delete(out, field)
	} else {
		out[field] = value
	}
	return out
}

func clampPerPage(n int) int {
	switch {
	case n < 1:
		return DefaultPerPage
	case n > MaxPerPage:
		return MaxPerPage
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
