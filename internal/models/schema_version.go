package models

import (
	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is bumped whenever a canonical field is added (minor) or
// renamed/removed (major).
const SchemaVersion = "1.2.0"

var currentSchema = semver.MustParse(SchemaVersion)

// SchemaCompatible reports whether a snapshot committed under version v can
// be used without re-normalization. Empty or unparsable versions are treated
// as incompatible.
func SchemaCompatible(v string) bool {
	if v == "" {
		return false
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	if sv.Major() != currentSchema.Major() {
		return false
	}
	return !sv.GreaterThan(currentSchema)
}
