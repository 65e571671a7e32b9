package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/search"
)

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func formatTurn(result *conversation.TurnResult) string {
	var b strings.Builder
	b.WriteString(escapeMarkdown(result.AssistantMessage))

	if len(result.FilterChanges) > 0 {
		b.WriteString("\n\n*Changes:*\n")
		for _, c := range result.FilterChanges {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdown(c.Reason))
		}
	}

	fmt.Fprintf(&b, "\n*Confidence:* %s%% %s\n",
		strconv.FormatFloat(result.Confidence, 'f', -1, 64),
		escapeMarkdown("("+result.ConfidenceLevel+")"))

	writeList(&b, "Conflicts", result.ConflictsDetected)
	writeList(&b, "Questions", result.ClarificationNeeded)
	writeList(&b, "Try next", result.SuggestedFollowups)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s:*\n", escapeMarkdown(title))
	for _, item := range items {
		fmt.Fprintf(b, "• %s\n", escapeMarkdown(item))
	}
}

// formatFilters renders one line per set field in schema order.
func formatFilters(f models.Filters) string {
	var b strings.Builder
	for _, key := range f.Keys() {
		value := filterValue(f, key)
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, "• *%s:* %s\n", escapeMarkdown(key), escapeMarkdown(value))
	}
	return b.String()
}

func filterValue(f models.Filters, key string) string {
	field, _ := models.Lookup(key)
	switch field.Kind {
	case models.KindList:
		return strings.Join(f.StringList(key), ", ")
	case models.KindNumber:
		if n, ok := f.Number(key); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	case models.KindString:
		return f.Text(key)
	case models.KindBool:
		if v := f.Bool(key); v != nil {
			return strconv.FormatBool(*v)
		}
	}
	return ""
}

func formatResults(state search.State) string {
	var b strings.Builder

	if state.SearchType == models.SearchCompany {
		if len(state.Company.Results) == 0 {
			return escapeMarkdown("No companies matched these filters.")
		}
		for i, c := range state.Company.Results {
			line := c.Name
			if c.PrimaryDomain != "" {
				line += " · " + c.PrimaryDomain
			}
			if c.Industry != "" {
				line += " · " + c.Industry
			}
			if c.EstimatedEmployees > 0 {
				line += fmt.Sprintf(" · %d employees", c.EstimatedEmployees)
			}
			fmt.Fprintf(&b, "%d\\. %s\n", offset(state.Company.Page, state.Company.PerPage)+i+1, escapeMarkdown(line))
		}
	} else {
		if len(state.People.Results) == 0 {
			return escapeMarkdown("No people matched these filters.")
		}
		for i, l := range state.People.Results {
			line := "*" + escapeMarkdown(l.FullName) + "*"
			if l.Title != "" {
				line += escapeMarkdown(", " + l.Title)
			}
			if l.OrganizationName != "" {
				line += escapeMarkdown(" @ " + l.OrganizationName)
			}
			fmt.Fprintf(&b, "%d\\. %s\n", offset(state.People.Page, state.People.PerPage)+i+1, line)
		}
	}

	if p := state.Pagination(); p != nil {
		footer := fmt.Sprintf("Page %d of %d, %d total.", p.Page, p.TotalPages, p.TotalEntries)
		if state.CanGoNext() {
			footer += " /next for more."
		}
		b.WriteString("\n" + escapeMarkdown(footer))
	}
	return b.String()
}

func offset(page, perPage int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * perPage
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
