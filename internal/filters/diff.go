package filters

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/xaenox/icp-bot/internal/models"
)

// Diff compares two canonical snapshots and returns one change record per
// field whose value differs.
func Diff(previous, next models.Filters) []models.FilterEvolution {
	return DiffAt(previous, next, time.Now().UTC())
}

// DiffAt is Diff with an explicit timestamp for every produced record.
//
// Fields are visited in the order of previous's keys followed by keys only
// present in next. List fields are compared as sets of their string forms;
// scalars compare by JSON form with nil and a missing key being equal.
func DiffAt(previous, next models.Filters, now time.Time) []models.FilterEvolution {
	var changes []models.FilterEvolution

	for _, field := range unionKeys(previous, next) {
		oldValue, newValue := previous[field], next[field]

		if isListField(field, oldValue, newValue) {
			if ev, ok := diffList(field, oldValue, newValue); ok {
				ev.Timestamp = now
				changes = append(changes, ev)
			}
			continue
		}

		if oldValue == nil && newValue == nil {
			continue
		}
		if serialize(oldValue) == serialize(newValue) {
			continue
		}
		changes = append(changes, models.FilterEvolution{
			Timestamp:     now,
			Field:         field,
			Action:        models.ActionReplace,
			PreviousValue: oldValue,
			NewValue:      newValue,
			Reason:        fmt.Sprintf("Changed %s from %s to %s", field, describe(oldValue), describe(newValue)),
		})
	}

	return changes
}

// Fields lists the fields touched by a set of changes, in change order.
func Fields(changes []models.FilterEvolution) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Field)
	}
	return out
}

func unionKeys(previous, next models.Filters) []string {
	keys := previous.Keys()
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range next.Keys() {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func isListField(field string, values ...any) bool {
	if f, ok := models.Lookup(field); ok && f.Kind == models.KindList {
		return true
	}
	for _, v := range values {
		if v != nil && reflect.TypeOf(v).Kind() == reflect.Slice {
			return true
		}
	}
	return false
}

func diffList(field string, oldValue, newValue any) (models.FilterEvolution, bool) {
	oldItems := uniqueStrings(listStrings(oldValue))
	newItems := uniqueStrings(listStrings(newValue))

	oldSet := toSet(oldItems)
	newSet := toSet(newItems)

	var added, removed []string
	for _, s := range newItems {
		if _, ok := oldSet[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range oldItems {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, s)
		}
	}

	ev := models.FilterEvolution{
		Field:         field,
		PreviousValue: oldValue,
		NewValue:      newValue,
	}
	switch {
	case len(added) == 0 && len(removed) == 0:
		return ev, false
	case len(removed) == 0:
		ev.Action = models.ActionAdd
		ev.Reason = fmt.Sprintf("Added %s to %s", strings.Join(added, ", "), field)
	case len(added) == 0:
		ev.Action = models.ActionRemove
		ev.Reason = fmt.Sprintf("Removed %s from %s", strings.Join(removed, ", "), field)
	default:
		ev.Action = models.ActionReplace
		ev.Reason = fmt.Sprintf("Replaced %s: added %s; removed %s",
			field, strings.Join(added, ", "), strings.Join(removed, ", "))
	}
	return ev, true
}

// listStrings string-casts the elements of any slice value. A non-slice
// scalar counts as a one-element list.
func listStrings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		return toStringList(vv)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []string{stringify(v)}
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, stringify(rv.Index(i).Interface()))
	}
	return out
}

func uniqueStrings(in []string) []string {
	return unionStrings(in)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

func describe(v any) string {
	if v == nil {
		return "none"
	}
	return stringify(v)
}
