package cli

import (
	"bytes"
	"context"
	"errors"
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

type queueProposer struct {
	proposals []*assistant.Proposal
	requests  []assistant.Request
}

func (p *queueProposer) Propose(ctx context.Context, req assistant.Request) (*assistant.Proposal, error) {
	p.requests = append(p.requests, req)
	if len(p.proposals) == 0 {
		return nil, errors.New("no proposal queued")
	}
	next := p.proposals[0]
	p.proposals = p.proposals[1:]
	return next, nil
}

type fakeSearcher struct {
	queries []search.Query
}

func (f *fakeSearcher) SearchPeople(ctx context.Context, q search.Query) (*search.PeoplePage, error) {
	f.queries = append(f.queries, q)
	return &search.PeoplePage{
		Leads:      []models.Lead{{ID: "p1", FullName: "Grace Hopper", Title: "VP Engineering", OrganizationName: "Navy"}},
		Pagination: models.Pagination{Page: q.Page, PerPage: q.PerPage, TotalEntries: 40, TotalPages: 2, HasMore: q.Page < 2},
	}, nil
}

func (f *fakeSearcher) SearchCompanies(ctx context.Context, q search.Query) (*search.CompanyPage, error) {
	f.queries = append(f.queries, q)
	return &search.CompanyPage{
		Companies:  []models.Company{{ID: "o1", Name: "Acme", PrimaryDomain: "acme.io"}},
		Pagination: models.Pagination{Page: 1, PerPage: q.PerPage, TotalEntries: 1, TotalPages: 1},
	}, nil
}

func vpProposal() *assistant.Proposal {
	return &assistant.Proposal{
		AssistantMessage:   "Looking for engineering VPs.",
		UpdatedFilters:     map[string]any{"jobTitles": []any{"VP Engineering"}},
		Confidence:         75,
		SuggestedFollowups: []string{"Add a location"},
	}
}

func run(t *testing.T, chat *Chat, input ...string) string {
	t.Helper()
	var out bytes.Buffer
	err := chat.Run(context.Background(), strings.NewReader(strings.Join(input, "\n")+"\n"), &out)
	require.NoError(t, err)
	return out.String()
}

func newChat(p assistant.Proposer, s search.Searcher) (*Chat, *conversation.Service) {
	svc := conversation.NewService(storage.NewMemoryStorage(zap.NewNop()), p, zap.NewNop())
	return NewChat(svc, s, "local", zap.NewNop()), svc
}

func TestChatTurn(t *testing.T) {
	chat, svc := newChat(&queueProposer{proposals: []*assistant.Proposal{vpProposal()}}, nil)

	out := run(t, chat, "engineering VPs", "/filters")

	assert.Contains(t, out, "Looking for engineering VPs.")
	assert.Contains(t, out, "confidence 75% medium")
	assert.Contains(t, out, "Try next:")
	assert.Contains(t, out, "- Add a location")
	assert.Contains(t, out, "jobTitles: VP Engineering")

	conv, err := svc.Get(context.Background(), chat.ConversationID())
	require.NoError(t, err)
	assert.Equal(t, "local", conv.UserID)
	assert.Equal(t, 2, conv.TotalMessages())
}

func TestChatTurnError(t *testing.T) {
	chat, _ := newChat(&queueProposer{}, nil)
	out := run(t, chat, "anything")
	assert.Contains(t, out, "error:")
	assert.Empty(t, chat.ConversationID())
}

func TestChatSearchAndPaging(t *testing.T) {
	searcher := &fakeSearcher{}
	chat, _ := newChat(&queueProposer{proposals: []*assistant.Proposal{vpProposal()}}, searcher)

	out := run(t, chat, "engineering VPs", "/search", "/next", "/next", "/prev")

	require.Len(t, searcher.queries, 3)
	assert.Equal(t, []string{"VP Engineering"}, searcher.queries[0].Filters.StringList("jobTitles"))
	assert.Equal(t, 2, searcher.queries[1].Page)
	assert.Equal(t, 1, searcher.queries[2].Page)
	assert.Contains(t, out, "Grace Hopper VP Engineering @ Navy")
	assert.Contains(t, out, "page 1 of 2, 40 total")
	assert.Contains(t, out, "No more pages in that direction.")
}

func TestChatSearchDisabled(t *testing.T) {
	chat, _ := newChat(&queueProposer{}, nil)
	out := run(t, chat, "/search")
	assert.Contains(t, out, "search is not configured")
}

func TestChatTypeCommand(t *testing.T) {
	p := &queueProposer{proposals: []*assistant.Proposal{vpProposal()}}
	searcher := &fakeSearcher{}
	chat, _ := newChat(p, searcher)

	out := run(t, chat, "/type nowhere", "/type company", "/search", "fintech")

	assert.Contains(t, out, "usage: /type people|company")
	assert.Contains(t, out, "Switched to company search.")
	assert.Contains(t, out, "Acme acme.io")
	require.Len(t, p.requests, 1)
	assert.Equal(t, models.SearchCompany, p.requests[0].SearchType)
}

func TestChatNewDeletesConversation(t *testing.T) {
	chat, svc := newChat(&queueProposer{proposals: []*assistant.Proposal{vpProposal()}}, nil)

	run(t, chat, "engineering VPs")
	id := chat.ConversationID()
	require.NotEmpty(t, id)

	out := run(t, chat, "/reset", "/filters", "/new")
	assert.Contains(t, out, "No filters set.")
	assert.Contains(t, out, "Started a new conversation.")
	assert.Empty(t, chat.ConversationID())

	_, err := svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChatQuitStopsReading(t *testing.T) {
	p := &queueProposer{proposals: []*assistant.Proposal{vpProposal()}}
	chat, _ := newChat(p, nil)

	out := run(t, chat, "/quit", "engineering VPs")
	assert.Empty(t, p.requests)
	assert.NotContains(t, out, "Looking for")
}

func TestChatUnknownCommand(t *testing.T) {
	chat, _ := newChat(&queueProposer{}, nil)
	assert.Contains(t, run(t, chat, "/teleport"), "unknown command /teleport")
}
