package assistant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/icp-bot/internal/models"
)

// ContextMessages is how many of the newest messages go into the prompt.
const ContextMessages = 6

const SystemPrompt = "You are an expert SDR assistant. You help users refine their ideal customer profile " +
	"through natural conversation. Always respond with valid JSON that includes both the updated filter " +
	"state and a conversational message explaining what you changed and why."

// BuildContext summarizes the current filter snapshot and the recent
// message log of a conversation.
func BuildContext(conv *models.Conversation) string {
	var b strings.Builder
	b.WriteString("CONVERSATION CONTEXT:\n")
	fmt.Fprintf(&b, "Search type: %s\n", conv.SearchType)

	summary := summarizeFilters(conv.CurrentFilters)
	if summary == "" {
		summary = "No filters set"
	}
	fmt.Fprintf(&b, "Current Filter State: %s\n\n", summary)

	recent := conv.RecentMessages(ContextMessages)
	if len(recent) > 0 {
		b.WriteString("Recent Conversation:\n")
		for _, msg := range recent {
			speaker := "User"
			if msg.Role == models.RoleAssistant {
				speaker = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func summarizeFilters(f models.Filters) string {
	parts := make([]string, 0, len(f))
	for _, key := range f.Keys() {
		field, _ := models.Lookup(key)
		switch field.Kind {
		case models.KindList:
			if items := f.StringList(key); len(items) > 0 {
				parts = append(parts, fmt.Sprintf("%s: %s", key, strings.Join(items, ", ")))
			}
		case models.KindNumber:
			if n, ok := f.Number(key); ok {
				parts = append(parts, fmt.Sprintf("%s: %s", key, strconv.FormatFloat(n, 'f', -1, 64)))
			}
		case models.KindString:
			if s := f.Text(key); s != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", key, s))
			}
		case models.KindBool:
			if b := f.Bool(key); b != nil {
				parts = append(parts, fmt.Sprintf("%s: %t", key, *b))
			}
		}
	}
	return strings.Join(parts, " | ")
}

// BuildPrompt renders the user turn prompt. now anchors relative dates
// such as "last month".
func BuildPrompt(userMessage, context string, searchType models.SearchType, now time.Time) string {
	day := func(d time.Duration) string { return now.Add(-d).Format("2006-01-02") }
	const dayLen = 24 * time.Hour

	var b strings.Builder
	b.WriteString(context)
	fmt.Fprintf(&b, "\nNEW USER MESSAGE: %q\n\n", userMessage)
	fmt.Fprintf(&b, "The user is building a %s search. Update the target audience filters based on their message.\n\n", searchType)

	b.WriteString(`NEGATION:
- "not CTO" -> excludeJobTitles: ["CTO"]
- "no technology companies" -> excludeIndustries: ["Technology"]
- "don't want remote" -> excludePersonLocations: ["Remote"]

ALTERNATIVES:
- "CTO or CMO" -> jobTitles: ["CTO", "CMO"]
- "either healthcare or fintech" -> industries: ["Healthcare", "Financial Services"]

CONTEXTUAL REFERENCES:
- "change that to CMO" replaces the most recently mentioned job title with "CMO"
- "remove the previous" removes the last added filter item
- "make it broader" expands the current criteria with related items

`)
	fmt.Fprintf(&b, "TEMPORAL EXPRESSIONS (today is %s):\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "- \"recently\" -> organizationJobPostedAtMin: %q\n", day(14*dayLen))
	fmt.Fprintf(&b, "- \"last month\" -> organizationJobPostedAtMin: %q\n", day(30*dayLen))
	fmt.Fprintf(&b, "- \"past 3 months\" -> organizationJobPostedAtMin: %q\n", day(90*dayLen))
	fmt.Fprintf(&b, "- \"past 6 months\" -> organizationJobPostedAtMin: %q\n", day(180*dayLen))
	fmt.Fprintf(&b, "- \"this year\" -> organizationJobPostedAtMin: \"%d-01-01\"\n\n", now.Year())

	b.WriteString(`CONFLICTS AND CLARIFICATION:
- Point out contradictory requirements in conflictsDetected and suggest alternatives.
- When confidence is below 70, ask specific questions in clarificationNeeded.

CONFIDENCE:
- 95-100 clear instructions with specific values
- 85-94 clear intent with minor interpretation
- 70-84 some ambiguity
- below 70 significant ambiguity

Always return the COMPLETE filter state, not only the fields that changed.
Respond with JSON in exactly this format:
`)
	b.WriteString(responseTemplate(searchType))
	return b.String()
}

func responseTemplate(searchType models.SearchType) string {
	var filters strings.Builder
	fmt.Fprintf(&filters, "    \"searchType\": %q", searchType)
	for _, field := range models.Schema {
		empty := "null"
		if field.Kind == models.KindList {
			empty = "[]"
		}
		fmt.Fprintf(&filters, ",\n    %q: %s", field.Name, empty)
	}

	example, _ := json.Marshal("Natural conversational response explaining the changes")
	return fmt.Sprintf(`{
  "assistantMessage": %s,
  "updatedFilters": {
%s
  },
  "confidence": 85,
  "reasoningExplanation": "How the message was interpreted",
  "conflictsDetected": [],
  "clarificationNeeded": [],
  "suggestedFollowups": []
}`, example, filters.String())
}
