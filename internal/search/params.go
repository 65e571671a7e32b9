package search

import (
	"strings"

	"github.com/xaenox/icp-bot/internal/models"
)

var locationNames = map[string]string{
	"US":  "United States",
	"USA": "United States",
	"UK":  "United Kingdom",
	"GB":  "United Kingdom",
	"CA":  "Canada",
	"AU":  "Australia",
	"DE":  "Germany",
	"FR":  "France",
	"IN":  "India",
	"JP":  "Japan",
	"CN":  "China",
	"BR":  "Brazil",
}

var seniorityValues = map[string]string{
	"c-level":        "c_suite",
	"c_suite":        "c_suite",
	"ceo":            "c_suite",
	"cto":            "c_suite",
	"cfo":            "c_suite",
	"coo":            "c_suite",
	"founder":        "founder",
	"owner":          "owner",
	"partner":        "partner",
	"vp":             "vp",
	"vice president": "vp",
	"head":           "head",
	"head of":        "head",
	"director":       "director",
	"manager":        "manager",
	"senior":         "senior",
	"entry":          "entry",
	"intern":         "intern",
}

func perPage(q Query) int {
	if q.PerPage <= 0 {
		return DefaultPerPage
	}
	return min(q.PerPage, MaxPerPage)
}

// PeopleParams maps a canonical filter snapshot onto an Apollo
// /mixed_people/search request body. Empty fields are omitted.
func PeopleParams(q Query) map[string]any {
	f := q.Filters
	p := map[string]any{
		"page":                   max(q.Page, 1),
		"per_page":               perPage(q),
		"include_similar_titles": true,
	}

	setList(p, "person_titles", f.StringList("jobTitles"))
	setList(p, "person_not_titles", f.StringList("excludeJobTitles"))
	setList(p, "person_locations", locations(f.StringList("personLocations")))
	setList(p, "person_not_locations", locations(f.StringList("excludePersonLocations")))
	setList(p, "person_seniorities", seniorities(f.StringList("seniorities")))
	if b := f.Bool("hasEmail"); b != nil && *b {
		p["contact_email_status"] = []string{"verified", "likely to engage"}
	}
	if kw := f.StringList("keywords"); len(kw) > 0 {
		p["q_keywords"] = strings.Join(kw, ", ")
	}

	organizationParams(p, f)
	return p
}

// CompanyParams maps a canonical filter snapshot onto an Apollo
// /mixed_companies/search request body.
func CompanyParams(q Query) map[string]any {
	f := q.Filters
	p := map[string]any{
		"page":     max(q.Page, 1),
		"per_page": perPage(q),
	}

	organizationParams(p, f)

	if name := f.Text("organizationName"); name != "" {
		p["q_organization_name"] = name
	}
	tags := append(append([]string(nil), f.StringList("companyKeywords")...), f.StringList("keywords")...)
	setList(p, "q_organization_keyword_tags", tags)
	setList(p, "organization_latest_funding_stage_cd", f.StringList("fundingStages"))
	setRange(p, "latest_funding_amount_range", f, "latestFundingAmountMin", "latestFundingAmountMax")
	setRange(p, "total_funding_range", f, "totalFundingMin", "totalFundingMax")
	setRange(p, "latest_funding_date_range", f, "latestFundingDateMin", "latestFundingDateMax")
	setRange(p, "organization_founded_year_range", f, "foundedYearMin", "foundedYearMax")
	return p
}

func organizationParams(p map[string]any, f models.Filters) {
	setList(p, "organization_locations", locations(f.StringList("organizationLocations")))
	setList(p, "organization_not_locations", locations(f.StringList("excludeOrganizationLocations")))
	setList(p, "organization_industries", f.StringList("industries"))
	setList(p, "organization_not_industries", f.StringList("excludeIndustries"))
	setList(p, "organization_num_employees_ranges", headcountRanges(f.StringList("companyHeadcount")))
	setList(p, "q_organization_domains_list", f.StringList("companyDomains"))
	setRange(p, "revenue_range", f, "revenueMin", "revenueMax")
	setList(p, "currently_using_any_of_technology_uids", f.StringList("technologyUids"))
	setList(p, "currently_not_using_any_of_technology_uids", f.StringList("excludeTechnologyUids"))
	setList(p, "organization_job_titles", f.StringList("organizationJobTitles"))
	setList(p, "organization_job_locations", locations(f.StringList("organizationJobLocations")))
	setRange(p, "organization_num_jobs_range", f, "organizationNumJobsMin", "organizationNumJobsMax")
	setRange(p, "organization_job_posted_at_range", f, "organizationJobPostedAtMin", "organizationJobPostedAtMax")
	setList(p, "q_organization_intent_topics", f.StringList("intentTopics"))

	if b := f.Bool("jobPostings"); b != nil {
		p["has_job_postings"] = *b
	}
	if b := f.Bool("newsEvents"); b != nil {
		p["organization_recent_news_events"] = *b
	}
	if b := f.Bool("webTraffic"); b != nil {
		p["organization_has_web_traffic"] = *b
	}
}

func setList(p map[string]any, key string, values []string) {
	if len(values) > 0 {
		p[key] = values
	}
}

// setRange writes {min, max} under key for whichever bounds are set.
// Numeric and date bounds are both supported.
func setRange(p map[string]any, key string, f models.Filters, minField, maxField string) {
	r := map[string]any{}
	for bound, field := range map[string]string{"min": minField, "max": maxField} {
		if n, ok := f.Number(field); ok {
			r[bound] = n
		} else if s := f.Text(field); s != "" {
			r[bound] = s
		}
	}
	if len(r) > 0 {
		p[key] = r
	}
}

func locations(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, loc := range in {
		if name, ok := locationNames[strings.ToUpper(loc)]; ok {
			out[i] = name
		} else {
			out[i] = loc
		}
	}
	return out
}

func seniorities(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		v, ok := seniorityValues[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			v = strings.ToLower(s)
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// headcountRanges rewrites "51-200" style ranges as Apollo's "51,200".
// An open range such as "10000+" becomes "10000,".
func headcountRanges(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, r := range in {
		r = strings.ReplaceAll(strings.TrimSpace(r), " ", "")
		switch {
		case strings.HasSuffix(r, "+"):
			out[i] = strings.TrimSuffix(r, "+") + ","
		default:
			out[i] = strings.Replace(r, "-", ",", 1)
		}
	}
	return out
}
