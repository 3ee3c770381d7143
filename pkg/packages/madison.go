// pkg/packages/madison.go

package packages

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
)

// Candidate is one version of a package offered by the configured sources.
type Candidate struct {
	Package string
	Version string
	Source  string
}

// ParseMadison parses `apt-cache madison` output. Duplicate versions from
// several mirrors are collapsed.
func ParseMadison(output string) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}
		c := Candidate{
			Package: strings.TrimSpace(parts[0]),
			Version: strings.TrimSpace(parts[1]),
			Source:  strings.TrimSpace(parts[2]),
		}
		if c.Package == "" || c.Version == "" || seen[c.Version] {
			continue
		}
		seen[c.Version] = true
		out = append(out, c)
	}
	return out
}

// UpstreamVersion strips the epoch and the Debian revision from an apt
// version: "5:27.3.1-1~ubuntu.24.04~noble" -> "27.3.1".
func UpstreamVersion(aptVersion string) string {
	v := aptVersion
	if i := strings.Index(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.Index(v, "-"); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexAny(v, "+~"); i >= 0 {
		v = v[:i]
	}
	return v
}

// MatchPin returns the newest candidate whose upstream version matches pin.
// A pin matches when its segments are a prefix of the candidate's, so "1.9"
// matches "1.9.8" but not "1.10.0".
func MatchPin(candidates []Candidate, pin string) (Candidate, bool) {
	want, err := version.NewVersion(pin)
	if err != nil {
		return Candidate{}, false
	}
	n := len(strings.Split(strings.TrimPrefix(want.Original(), "v"), "."))

	type parsed struct {
		c Candidate
		v *version.Version
	}
	var matches []parsed
	for _, c := range candidates {
		got, err := version.NewVersion(UpstreamVersion(c.Version))
		if err != nil {
			continue
		}
		if prefixEqual(want.Segments(), got.Segments(), n) {
			matches = append(matches, parsed{c, got})
		}
	}
	if len(matches) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].v.GreaterThan(matches[j].v)
	})
	return matches[0].c, true
}

func prefixEqual(want, got []int, n int) bool {
	if n > len(want) {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if i >= len(got) || want[i] != got[i] {
			return false
		}
	}
	return true
}
