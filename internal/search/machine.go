package search

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/models"
)

var errEmptyPage = errors.New("searcher returned no page")

// Machine holds one search State and runs searches for its active slice.
// It is safe for concurrent use.
type Machine struct {
	searcher Searcher
	logger   *zap.Logger

	mu    sync.Mutex
	state State
}

func NewMachine(searcher Searcher, logger *zap.Logger) *Machine {
	return &Machine{
		searcher: searcher,
		logger:   logger,
		state:    NewState(),
	}
}

// Dispatch applies a to the held state and returns the result.
func (m *Machine) Dispatch(a Action) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Reduce(m.state, a)
	return m.state.Clone()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Search runs the active slice's query. Provider errors are recorded on
// the slice rather than returned; the other slice is never touched.
func (m *Machine) Search(ctx context.Context) State {
	m.mu.Lock()
	m.state = Reduce(m.state, SearchStarted{})
	searchType := m.state.SearchType
	var (
		q   Query
		seq uint64
	)
	if searchType == models.SearchCompany {
		q = Query{Filters: m.state.Company.Filters.Clone(), Page: m.state.Company.Page, PerPage: m.state.Company.PerPage}
		seq = m.state.Company.Seq
	} else {
		q = Query{Filters: m.state.People.Filters.Clone(), Page: m.state.People.Page, PerPage: m.state.People.PerPage}
		seq = m.state.People.Seq
	}
	m.mu.Unlock()

	logger := m.logger.With(zap.String("search_type", string(searchType)), zap.Int("page", q.Page))

	var (
		result    Action
		rateLimit *models.RateLimitInfo
	)
	if searchType == models.SearchCompany {
		page, err := m.searcher.SearchCompanies(ctx, q)
		if err == nil && page == nil {
			err = errEmptyPage
		}
		if err != nil {
			logger.Error("Company search failed", zap.Error(err))
			result = SearchFailed{Type: searchType, Seq: seq, Err: err.Error()}
		} else {
			p := page.Pagination
			result = CompanyResults{Seq: seq, Results: page.Companies, Pagination: &p, Breadcrumbs: page.Breadcrumbs, SearchID: page.SearchID}
			rateLimit = page.RateLimit
		}
	} else {
		page, err := m.searcher.SearchPeople(ctx, q)
		if err == nil && page == nil {
			err = errEmptyPage
		}
		if err != nil {
			logger.Error("People search failed", zap.Error(err))
			result = SearchFailed{Type: searchType, Seq: seq, Err: err.Error()}
		} else {
			p := page.Pagination
			result = PeopleResults{Seq: seq, Results: page.Leads, Pagination: &p, Breadcrumbs: page.Breadcrumbs, SearchID: page.SearchID}
			rateLimit = page.RateLimit
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Reduce(m.state, result)
	if rateLimit != nil {
		m.state = Reduce(m.state, SetRateLimit{Info: rateLimit})
	}
	return m.state.Clone()
}

// GoToPage moves the active slice to page and searches it.
func (m *Machine) GoToPage(ctx context.Context, page int) State {
	m.Dispatch(SetPage{Page: page})
	return m.Search(ctx)
}

// NextPage advances the active slice when the provider reported more
// results. It reports whether a search ran.
func (m *Machine) NextPage(ctx context.Context) (State, bool) {
	s := m.State()
	if !s.CanGoNext() {
		return s, false
	}
	return m.GoToPage(ctx, s.ActivePage()+1), true
}

func (m *Machine) PrevPage(ctx context.Context) (State, bool) {
	s := m.State()
	if !s.CanGoPrev() {
		return s, false
	}
	return m.GoToPage(ctx, s.ActivePage()-1), true
}

func (m *Machine) SetPerPage(ctx context.Context, perPage int) State {
	m.Dispatch(SetPerPage{PerPage: perPage})
	return m.Search(ctx)
}

// ApplyCanonical pushes a conversation snapshot into both slices and
// selects searchType when it is valid.
func (m *Machine) ApplyCanonical(f models.Filters, searchType models.SearchType) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Reduce(m.state, ApplyCanonical{Filters: f})
	m.state = Reduce(m.state, SetSearchType{Type: searchType})
	return m.state.Clone()
}
