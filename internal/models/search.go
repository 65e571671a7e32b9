package models

import "time"

type SearchType string

const (
	SearchPeople  SearchType = "people"
	SearchCompany SearchType = "company"
)

func (t SearchType) Valid() bool {
	return t == SearchPeople || t == SearchCompany
}

// Pagination mirrors the provider's pagination descriptor.
type Pagination struct {
	Page         int  `json:"page"`
	PerPage      int  `json:"per_page"`
	TotalEntries int  `json:"total_entries"`
	TotalPages   int  `json:"total_pages"`
	HasMore      bool `json:"has_more"`
}

type Breadcrumb struct {
	Label           string `json:"label"`
	SignalFieldName string `json:"signal_field_name"`
	Value           any    `json:"value"`
	DisplayName     string `json:"display_name"`
}

type RateLimitInfo struct {
	RemainingRequests int       `json:"remainingRequests"`
	ResetTime         time.Time `json:"resetTime"`
	DailyLimit        int       `json:"dailyLimit"`
	DailyUsed         int       `json:"dailyUsed"`
}

// Lead is a person-level search result.
type Lead struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	FullName         string `json:"name"`
	Title            string `json:"title,omitempty"`
	Seniority        string `json:"seniority,omitempty"`
	Email            string `json:"email,omitempty"`
	EmailStatus      string `json:"email_status,omitempty"`
	LinkedInURL      string `json:"linkedin_url,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	Country          string `json:"country,omitempty"`
	OrganizationID   string `json:"organization_id,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Company is a company-level search result.
type Company struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	WebsiteURL         string   `json:"website_url,omitempty"`
	PrimaryDomain      string   `json:"primary_domain,omitempty"`
	Industry           string   `json:"industry,omitempty"`
	EstimatedEmployees int      `json:"estimated_num_employees,omitempty"`
	AnnualRevenue      float64  `json:"annual_revenue,omitempty"`
	FoundedYear        int      `json:"founded_year,omitempty"`
	City               string   `json:"city,omitempty"`
	Country            string   `json:"country,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
}
