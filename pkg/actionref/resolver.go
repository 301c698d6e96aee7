package actionref

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "actionref:resolver"

// Version is a registered action's version.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
}

// String renders the version as "major.minor.patch[-prerelease]".
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		return base + "-" + v.Prerelease
	}
	return base
}

// Resolve picks the highest registered version satisfying ref's range out of
// candidates. An empty ref.Range matches the highest candidate unconditionally.
// A bare major-only range ("3") is treated as "^3.0.0".
func Resolve(ref *Ref, candidates []Version) (Version, error) {
	if len(candidates) == 0 {
		return Version{}, fmt.Errorf("%s - no versions registered for action %q", resolverLogPrefix, ref.Action)
	}

	sorted := make([]Version, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return compare(sorted[i], sorted[j]) > 0
	})

	if ref.Range == "" {
		return sorted[0], nil
	}

	constraintStr := ref.Range
	if majorOnlyRegex.MatchString(constraintStr) {
		constraintStr = "^" + constraintStr + ".0.0"
	}
	constraint, err := masterminds.NewConstraint(constraintStr)
	if err != nil {
		return Version{}, fmt.Errorf("%s - invalid constraint %q: %w", resolverLogPrefix, ref.Range, err)
	}

	for _, v := range sorted {
		mv, err := masterminds.NewVersion(v.String())
		if err != nil {
			continue
		}
		if constraint.Check(mv) {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%s - no version of %q satisfies %q", resolverLogPrefix, ref.Action, ref.Range)
}

func compare(a, b Version) int {
	if a.Major != b.Major {
		return a.Major - b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor - b.Minor
	}
	if a.Patch != b.Patch {
		return a.Patch - b.Patch
	}
	// stable versions outrank prereleases of the same major.minor.patch
	if a.Prerelease == "" && b.Prerelease != "" {
		return 1
	}
	if a.Prerelease != "" && b.Prerelease == "" {
		return -1
	}
	if a.Prerelease < b.Prerelease {
		return -1
	}
	if a.Prerelease > b.Prerelease {
		return 1
	}
	return 0
}
