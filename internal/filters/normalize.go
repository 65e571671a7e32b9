// Package filters turns raw filter proposals into canonical snapshots and
// explains the difference between two snapshots as field-level changes.
package filters

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/xaenox/icp-bot/internal/models"
)

// Normalize resolves alias fields into canonical ones and strips every key
// that is not part of the canonical schema. It never fails: values that
// cannot be coerced to their field kind are dropped.
//
// Rules run in a fixed order and alias keys are always removed at the end,
// so Normalize(Normalize(x)) equals Normalize(x).
func Normalize(raw map[string]any) models.Filters {
	work := make(map[string]any, len(raw))
	for k, v := range raw {
		work[k] = v
	}

	if absent(work, "companyHeadcount") && !absent(work, models.AliasCompanySize) {
		work["companyHeadcount"] = work[models.AliasCompanySize]
	}

	if absent(work, "technologyUids") &&
		(!absent(work, models.AliasTechnologies) || !absent(work, models.AliasCompanyTechnologies)) {
		work["technologyUids"] = unionStrings(
			toStringList(work[models.AliasTechnologies]),
			toStringList(work[models.AliasCompanyTechnologies]),
		)
	}

	if absent(work, "excludeTechnologyUids") && !absent(work, models.AliasExcludeTechnologies) {
		work["excludeTechnologyUids"] = work[models.AliasExcludeTechnologies]
	}

	movePair(work,
		"revenueMin", "revenueMax",
		models.AliasRevenueRangeMin, models.AliasRevenueRangeMax)

	movePair(work,
		"organizationJobPostedAtMin", "organizationJobPostedAtMax",
		models.AliasOrganizationJobPostedAtRangeMin, models.AliasOrganizationJobPostedAtRangeMax)

	for _, k := range models.AliasKeys {
		delete(work, k)
	}
	for _, k := range models.TransportKeys {
		delete(work, k)
	}

	out := make(models.Filters, len(work))
	for k, v := range work {
		field, ok := models.Lookup(k)
		if !ok {
			continue
		}
		if v == nil {
			out[k] = nil
			continue
		}
		if cv, ok := coerce(field.Kind, v); ok {
			out[k] = cv
		}
	}
	return out
}

// movePair copies an alias range onto its canonical pair, but only when
// neither canonical bound is set.
func movePair(work map[string]any, minKey, maxKey, aliasMin, aliasMax string) {
	if !absent(work, minKey) || !absent(work, maxKey) {
		return
	}
	if !absent(work, aliasMin) {
		work[minKey] = work[aliasMin]
	}
	if !absent(work, aliasMax) {
		work[maxKey] = work[aliasMax]
	}
}

func absent(m map[string]any, key string) bool {
	v, ok := m[key]
	return !ok || v == nil
}

func coerce(kind models.FieldKind, v any) (any, bool) {
	switch kind {
	case models.KindList:
		return toStringList(v), true
	case models.KindNumber:
		return toNumber(v)
	case models.KindBool:
		return toBool(v)
	case models.KindString:
		return toText(v)
	}
	return nil, false
}

func toStringList(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if e == nil {
				continue
			}
			out = append(out, stringify(e))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

func unionStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// toNumber accepts finite numbers only; NaN and infinities cannot be
// stored as JSON.
func toNumber(v any) (any, bool) {
	var (
		f  float64
		ok bool
	)
	switch n := v.(type) {
	case float64:
		f, ok = n, true
	case float32:
		f, ok = float64(n), true
	case int:
		f, ok = float64(n), true
	case int32:
		f, ok = float64(n), true
	case int64:
		f, ok = float64(n), true
	case json.Number:
		parsed, err := n.Float64()
		f, ok = parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		f, ok = parsed, err == nil
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

func toBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return nil, false
}

func toText(v any) (any, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []any, []string, map[string]any:
		return nil, false
	}
	return stringify(v), true
}

// stringify is the string cast used for set membership and list coercion.
// Whole floats print without a fraction so 5 and 5.0 compare equal.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
