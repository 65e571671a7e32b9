// Package cli runs a targeting conversation in the terminal.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/search"
)

const prompt = "icp> "

type styles struct {
	Assistant lipgloss.Style
	Heading   lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Levels    map[string]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Assistant: r.NewStyle().Foreground(lipgloss.Color("6")),
		Heading:   r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "8", Dark: "7"}),
		Error:     r.NewStyle().Foreground(lipgloss.Color("1")),
		Levels: map[string]lipgloss.Style{
			"high":   r.NewStyle().Foreground(lipgloss.Color("2")),
			"medium": r.NewStyle().Foreground(lipgloss.Color("3")),
			"low":    r.NewStyle().Foreground(lipgloss.Color("1")),
		},
	}
}

// Chat is a line-oriented conversation. Plain lines are turns; lines that
// start with a slash are commands.
type Chat struct {
	conversations *conversation.Service
	searcher      search.Searcher
	machine       *search.Machine
	userID        string
	logger        *zap.Logger

	conversationID string
	pendingType    models.SearchType
}

// NewChat builds a chat session. searcher may be nil, which disables
// the search commands.
func NewChat(conversations *conversation.Service, searcher search.Searcher, userID string, logger *zap.Logger) *Chat {
	return &Chat{
		conversations: conversations,
		searcher:      searcher,
		machine:       search.NewMachine(searcher, logger),
		userID:        userID,
		logger:        logger,
	}
}

// ConversationID returns the id of the running conversation, if any.
func (c *Chat) ConversationID() string {
	return c.conversationID
}

// Run reads lines from in until EOF, /quit or ctx is done.
func (c *Chat) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	st := newStyles(lipgloss.NewRenderer(out))
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, st.Muted.Render("Describe your ideal customer. Type /help for commands."))
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/"):
			c.command(ctx, line, out, st)
		default:
			c.turn(ctx, line, out, st)
		}
	}
}

func (c *Chat) turn(ctx context.Context, line string, out io.Writer, st styles) {
	result, err := c.conversations.ProcessTurn(ctx, conversation.TurnRequest{
		UserMessage:    line,
		ConversationID: c.conversationID,
		UserID:         c.userID,
		SearchType:     c.pendingType,
	})
	if err != nil {
		c.logger.Debug("Turn failed", zap.Error(err))
		fmt.Fprintln(out, st.Error.Render("error: "+err.Error()))
		return
	}

	c.conversationID = result.ConversationID
	c.pendingType = ""
	c.machine.ApplyCanonical(result.UpdatedFilters, result.SearchType)

	fmt.Fprintln(out, st.Assistant.Render(result.AssistantMessage))
	for _, change := range result.FilterChanges {
		fmt.Fprintln(out, "  "+st.Muted.Render("• "+change.Reason))
	}

	level, ok := st.Levels[result.ConfidenceLevel]
	if !ok {
		level = st.Muted
	}
	confidence := strconv.FormatFloat(result.Confidence, 'f', -1, 64)
	fmt.Fprintf(out, "  confidence %s\n", level.Render(confidence+"% "+result.ConfidenceLevel))

	printList(out, st, "Conflicts", result.ConflictsDetected)
	printList(out, st, "Questions", result.ClarificationNeeded)
	printList(out, st, "Try next", result.SuggestedFollowups)
}

func (c *Chat) command(ctx context.Context, line string, out io.Writer, st styles) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help":
		fmt.Fprintln(out, `/filters             show the current filters
/search              run a search with the current filters
/next, /prev         page through results
/type people|company switch search type
/reset               clear the search filters
/new                 start a new conversation
/quit                leave`)
	case "filters":
		state := c.machine.State()
		if !state.HasActiveFilters() {
			fmt.Fprintln(out, st.Muted.Render("No filters set."))
			return
		}
		fmt.Fprintln(out, st.Heading.Render(string(state.SearchType)+" filters"))
		f := state.ActiveFilters()
		for _, key := range f.Keys() {
			fmt.Fprintf(out, "  %s: %s\n", key, filterValue(f, key))
		}
	case "search", "next", "prev":
		if c.searcher == nil {
			fmt.Fprintln(out, st.Error.Render("search is not configured"))
			return
		}
		var state search.State
		switch name {
		case "search":
			state = c.machine.Search(ctx)
		case "next", "prev":
			var ran bool
			if name == "next" {
				state, ran = c.machine.NextPage(ctx)
			} else {
				state, ran = c.machine.PrevPage(ctx)
			}
			if !ran {
				fmt.Fprintln(out, st.Muted.Render("No more pages in that direction."))
				return
			}
		}
		printResults(out, st, state)
	case "type":
		t := models.SearchType(strings.ToLower(arg))
		if !t.Valid() {
			fmt.Fprintln(out, st.Error.Render("usage: /type people|company"))
			return
		}
		c.pendingType = t
		c.machine.Dispatch(search.SetSearchType{Type: t})
		fmt.Fprintf(out, "Switched to %s search.\n", t)
	case "reset":
		c.machine.Dispatch(search.ResetFilters{})
		fmt.Fprintln(out, "Search filters cleared.")
	case "new":
		if c.conversationID != "" {
			if err := c.conversations.Delete(ctx, c.conversationID); err != nil {
				c.logger.Warn("Failed to delete conversation", zap.Error(err))
			}
		}
		c.conversationID = ""
		c.pendingType = ""
		c.machine = search.NewMachine(c.searcher, c.logger)
		fmt.Fprintln(out, "Started a new conversation.")
	default:
		fmt.Fprintln(out, st.Error.Render("unknown command /"+name))
	}
}

func printList(out io.Writer, st styles, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(out, "  "+st.Heading.Render(title+":"))
	for _, item := range items {
		fmt.Fprintln(out, "    - "+item)
	}
}

func printResults(out io.Writer, st styles, state search.State) {
	if msg := state.Error(); msg != "" {
		fmt.Fprintln(out, st.Error.Render("search failed: "+msg))
		return
	}

	if state.SearchType == models.SearchCompany {
		for _, company := range state.Company.Results {
			fmt.Fprintf(out, "  %s %s\n", company.Name, st.Muted.Render(company.PrimaryDomain))
		}
	} else {
		for _, lead := range state.People.Results {
			fmt.Fprintf(out, "  %s %s\n", lead.FullName, st.Muted.Render(strings.TrimSpace(lead.Title+" @ "+lead.OrganizationName)))
		}
	}

	if p := state.Pagination(); p != nil {
		fmt.Fprintln(out, st.Muted.Render(fmt.Sprintf("page %d of %d, %d total", p.Page, p.TotalPages, p.TotalEntries)))
	}
}

func filterValue(f models.Filters, key string) string {
	if list := f.StringList(key); list != nil {
		return strings.Join(list, ", ")
	}
	if n, ok := f.Number(key); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if b := f.Bool(key); b != nil {
		return strconv.FormatBool(*b)
	}
	return f.Text(key)
}
