package mc

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is a Minecraft game version such as 1.19.2 or 1.20.1-pre1.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string // pre-release tag: "pre1", "rc2", ...
}

// ParseVersion parses "major.minor[.patch][-suffix]".
func ParseVersion(s string) (Version, error) {
	base, suffix, _ := strings.Cut(s, "-")
	parts := strings.Split(base, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("mc: invalid game version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("mc: invalid game version %q: %w", s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Suffix: suffix}, nil
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d", v.Major, v.Minor)
	if v.Patch != 0 {
		s = fmt.Sprintf("%s.%d", s, v.Patch)
	}
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// Compare orders versions numerically; a release (empty suffix) sorts
// after its own pre-releases.
func (v Version) Compare(other Version) int {
	if c := cmpInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := cmpInt(v.Patch, other.Patch); c != 0 {
		return c
	}
	switch {
	case v.Suffix == other.Suffix:
		return 0
	case v.Suffix == "":
		return 1
	case other.Suffix == "":
		return -1
	default:
		return strings.Compare(v.Suffix, other.Suffix)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v *Version) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseVersion(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Version) MarshalYAML() (interface{}, error) { return v.String(), nil }

// VersionMatch filters game versions. The zero value (no version)
// matches anything. With the caret operator a candidate matches when it
// shares major.minor with the anchor and is not newer than it; this is
// the "fallback" rule that lets a 1.19.2 pack accept a 1.19.1 build of
// a mod that has no 1.19.2 build yet.
type VersionMatch struct {
	Version *Version
	Caret   bool
}

// MatchAny matches every game version.
var MatchAny = VersionMatch{}

// ParseVersionMatch parses "*", "1.19.2", or "^1.19.2".
func ParseVersionMatch(s string) (VersionMatch, error) {
	if s == "*" || s == "" {
		return MatchAny, nil
	}
	caret := strings.HasPrefix(s, "^")
	v, err := ParseVersion(strings.TrimPrefix(s, "^"))
	if err != nil {
		return VersionMatch{}, err
	}
	return VersionMatch{Version: &v, Caret: caret}, nil
}

// Matches reports whether the candidate game version satisfies the match.
func (m VersionMatch) Matches(v Version) bool {
	if m.Version == nil {
		return true
	}
	if m.Caret {
		return m.Version.Major == v.Major && m.Version.Minor == v.Minor && m.Version.Compare(v) >= 0
	}
	return m.Version.Compare(v) == 0
}

// MatchesAny reports whether any of the candidate versions satisfies
// the match.
func (m VersionMatch) MatchesAny(vers []Version) bool {
	for _, v := range vers {
		if m.Matches(v) {
			return true
		}
	}
	return false
}

func (m VersionMatch) String() string {
	if m.Version == nil {
		return "*"
	}
	if m.Caret {
		return "^" + m.Version.String()
	}
	return m.Version.String()
}

func (m *VersionMatch) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseVersionMatch(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
