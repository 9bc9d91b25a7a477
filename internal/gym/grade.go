package gym

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Grade is a parsed difficulty label: a letter class and a numeric tier, e.g. "V10".
type Grade struct {
	Class  string
	Tier   int
	Suffix string
	Raw    string
	valid  bool
}

// ParseGrade splits a grade label into class, tier and an optional suffix such as "+".
// Labels that do not start with letters followed by digits are kept as raw text.
func ParseGrade(raw string) Grade {
	trimmed := strings.TrimSpace(raw)
	grade := Grade{Raw: trimmed}

	classEnd := strings.IndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) })
	if classEnd <= 0 {
		return grade
	}
	rest := trimmed[classEnd:]
	tierEnd := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsDigit(r) })
	if tierEnd == -1 {
		tierEnd = len(rest)
	}
	if tierEnd == 0 {
		return grade
	}
	tier, err := strconv.Atoi(rest[:tierEnd])
	if err != nil {
		return grade
	}

	grade.Class = strings.ToUpper(trimmed[:classEnd])
	grade.Tier = tier
	grade.Suffix = rest[tierEnd:]
	grade.valid = true
	return grade
}

// Valid reports whether the label followed the class+tier format.
func (g Grade) Valid() bool {
	return g.valid
}

// String renders the canonical label: upper-case class, tier and suffix. Unparsable
// labels are returned trimmed but otherwise untouched.
func (g Grade) String() string {
	if !g.valid {
		return g.Raw
	}
	return g.Class + strconv.Itoa(g.Tier) + g.Suffix
}

// CompareGrades orders grades by class, then numeric tier, then suffix.
// Unparsable grades sort after parsable ones.
func CompareGrades(a, b string) int {
	left, right := ParseGrade(a), ParseGrade(b)
	switch {
	case left.valid && !right.valid:
		return -1
	case !left.valid && right.valid:
		return 1
	case !left.valid && !right.valid:
		return strings.Compare(left.Raw, right.Raw)
	}
	if c := strings.Compare(left.Class, right.Class); c != 0 {
		return c
	}
	if left.Tier != right.Tier {
		if left.Tier < right.Tier {
			return -1
		}
		return 1
	}
	return strings.Compare(left.Suffix, right.Suffix)
}

// SortGrades sorts grade labels in place using CompareGrades.
func SortGrades(grades []string) {
	sort.SliceStable(grades, func(i, j int) bool {
		return CompareGrades(grades[i], grades[j]) < 0
	})
}

// SortRoutes orders routes by set date (newest first), then by grade ascending.
func SortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		left, right := routes[i], routes[j]
		if !left.DateSet.Equal(right.DateSet) {
			return left.DateSet.After(right.DateSet)
		}
		return CompareGrades(left.Grade, right.Grade) < 0
	})
}

// SortGradeCounts orders aggregation rows by grade.
func SortGradeCounts(counts []GradeCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		return CompareGrades(counts[i].Grade, counts[j].Grade) < 0
	})
}
