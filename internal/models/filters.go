package models

import "encoding/json"

// FieldKind describes the value shape of a canonical filter field.
type FieldKind int

const (
	KindList FieldKind = iota
	KindNumber
	KindString
	KindBool
)

// Scope tells which search slice a canonical field applies to.
type Scope int

const (
	ScopePeople Scope = 1 << iota
	ScopeCompany

	ScopeBoth = ScopePeople | ScopeCompany
)

// Field is one entry of the canonical filter schema.
type Field struct {
	Name  string
	Kind  FieldKind
	Scope Scope
}

// Schema is the ordered canonical field set. The order here is the key
// order used for every iteration over a Filters value.
var Schema = []Field{
	// person-level
	{"jobTitles", KindList, ScopePeople},
	{"excludeJobTitles", KindList, ScopePeople},
	{"seniorities", KindList, ScopePeople},
	{"personLocations", KindList, ScopePeople},
	{"excludePersonLocations", KindList, ScopePeople},
	{"hasEmail", KindBool, ScopePeople},

	// organization-level
	{"organizationLocations", KindList, ScopeBoth},
	{"excludeOrganizationLocations", KindList, ScopeBoth},
	{"industries", KindList, ScopeBoth},
	{"excludeIndustries", KindList, ScopeBoth},
	{"companyHeadcount", KindList, ScopeBoth},
	{"companyDomains", KindList, ScopeBoth},
	{"organizationName", KindString, ScopeCompany},
	{"revenueMin", KindNumber, ScopeBoth},
	{"revenueMax", KindNumber, ScopeBoth},
	{"technologyUids", KindList, ScopeBoth},
	{"excludeTechnologyUids", KindList, ScopeBoth},

	// hiring signals
	{"organizationJobTitles", KindList, ScopeBoth},
	{"organizationJobLocations", KindList, ScopeBoth},
	{"organizationNumJobsMin", KindNumber, ScopeBoth},
	{"organizationNumJobsMax", KindNumber, ScopeBoth},
	{"organizationJobPostedAtMin", KindString, ScopeBoth},
	{"organizationJobPostedAtMax", KindString, ScopeBoth},

	// funding and growth
	{"fundingStages", KindList, ScopeCompany},
	{"fundingAmountMin", KindNumber, ScopeCompany},
	{"fundingAmountMax", KindNumber, ScopeCompany},
	{"latestFundingAmountMin", KindNumber, ScopeCompany},
	{"latestFundingAmountMax", KindNumber, ScopeCompany},
	{"latestFundingDateMin", KindString, ScopeCompany},
	{"latestFundingDateMax", KindString, ScopeCompany},
	{"totalFundingMin", KindNumber, ScopeCompany},
	{"totalFundingMax", KindNumber, ScopeCompany},
	{"foundedYearMin", KindNumber, ScopeCompany},
	{"foundedYearMax", KindNumber, ScopeCompany},

	// keywords and intent
	{"keywords", KindList, ScopeBoth},
	{"companyKeywords", KindList, ScopeCompany},
	{"intentTopics", KindList, ScopeBoth},

	// engagement signals
	{"jobPostings", KindBool, ScopeCompany},
	{"newsEvents", KindBool, ScopeCompany},
	{"webTraffic", KindBool, ScopeCompany},
}

// Alias and transport-only keys. None of them may survive normalization.
const (
	AliasCompanySize                     = "companySize"
	AliasTechnologies                    = "technologies"
	AliasCompanyTechnologies             = "companyTechnologies"
	AliasExcludeTechnologies             = "excludeTechnologies"
	AliasRevenueRangeMin                 = "revenueRangeMin"
	AliasRevenueRangeMax                 = "revenueRangeMax"
	AliasOrganizationJobPostedAtRangeMin = "organizationJobPostedAtRangeMin"
	AliasOrganizationJobPostedAtRangeMax = "organizationJobPostedAtRangeMax"
)

var AliasKeys = []string{
	AliasCompanySize,
	AliasTechnologies,
	AliasCompanyTechnologies,
	AliasExcludeTechnologies,
	AliasRevenueRangeMin,
	AliasRevenueRangeMax,
	AliasOrganizationJobPostedAtRangeMin,
	AliasOrganizationJobPostedAtRangeMax,
}

var TransportKeys = []string{"page", "perPage", "limit", "offset", "sort"}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(Schema))
	for i, f := range Schema {
		idx[f.Name] = i
	}
	return idx
}()

// Lookup returns the schema entry for a canonical field name.
func Lookup(name string) (Field, bool) {
	i, ok := fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return Schema[i], true
}

func IsCanonical(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// Filters is a canonical filter snapshot keyed by canonical field name.
type Filters map[string]any

// UnmarshalJSON restores []string values for list fields, which a plain
// decode into map[string]any would leave as []any.
func (f *Filters) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Filters, len(raw))
	for k, v := range raw {
		list, isList := v.([]any)
		field, known := Lookup(k)
		if !isList || !known || field.Kind != KindList {
			out[k] = v
			continue
		}
		items := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				items = append(items, s)
			}
		}
		if len(items) != len(list) {
			out[k] = v
			continue
		}
		out[k] = items
	}
	*f = out
	return nil
}

// Keys returns the keys present in f, in schema order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for _, field := range Schema {
		if _, ok := f[field.Name]; ok {
			keys = append(keys, field.Name)
		}
	}
	return keys
}

// Clone returns a copy of f whose list values do not share backing arrays.
func (f Filters) Clone() Filters {
	if f == nil {
		return Filters{}
	}
	out := make(Filters, len(f))
	for k, v := range f {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// Scoped returns the subset of f whose fields apply to the given scope.
func (f Filters) Scoped(scope Scope) Filters {
	out := Filters{}
	for _, k := range f.Keys() {
		field, _ := Lookup(k)
		if field.Scope&scope != 0 {
			out[k] = f[k]
		}
	}
	return out
}

// StringList returns the list value of a field, or nil.
func (f Filters) StringList(name string) []string {
	switch v := f[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Number returns the numeric value of a field and whether one is set.
func (f Filters) Number(name string) (float64, bool) {
	switch v := f[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (f Filters) Text(name string) string {
	s, _ := f[name].(string)
	return s
}

// Bool returns the tri-state boolean value of a field.
func (f Filters) Bool(name string) *bool {
	if b, ok := f[name].(bool); ok {
		return &b
	}
	return nil
}

// IsEmpty reports whether no field carries a meaningful value.
func (f Filters) IsEmpty() bool {
	for _, k := range f.Keys() {
		switch v := f[k].(type) {
		case nil:
		case []string:
			if len(v) > 0 {
				return false
			}
		case []any:
			if len(v) > 0 {
				return false
			}
		case string:
			if v != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
