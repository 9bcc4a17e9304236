package repository

import (
	"strings"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
)

// VersionCompare selects how "<version>__<token>" identities are ordered.
type VersionCompare string

const (
	// CompareNumeric orders by the four version parts, then by token text.
	CompareNumeric VersionCompare = "numeric"
	// CompareTextual orders by plain ordinal string comparison.
	CompareTextual VersionCompare = "textual"
)

func ParseVersionCompare(s string) (VersionCompare, error) {
	switch VersionCompare(strings.ToLower(strings.TrimSpace(s))) {
	case CompareNumeric:
		return CompareNumeric, nil
	case CompareTextual:
		return CompareTextual, nil
	}
	return "", errors.Newf(errors.CodeValidationError, "unknown version_compare %q (want numeric or textual)", s)
}

// Identity is the folder name an assembly version lives under.
func Identity(n *metadata.AssemblyName) string {
	return n.Version.String() + "__" + n.TokenString()
}

// Compare orders two identities. Numeric comparison falls back to textual
// when either version does not parse.
func (c VersionCompare) Compare(a, b string) int {
	if c != CompareNumeric {
		return strings.Compare(a, b)
	}
	av, at := splitIdentity(a)
	bv, bt := splitIdentity(b)
	va, errA := metadata.ParseVersion(av)
	vb, errB := metadata.ParseVersion(bv)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	if d := va.Compare(vb); d != 0 {
		return d
	}
	return strings.Compare(at, bt)
}

func splitIdentity(id string) (version, token string) {
	version, token, _ = strings.Cut(id, "__")
	return version, token
}
