package core

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// maxLabelLen bounds display labels in runes.
const maxLabelLen = 64

// NormalizeLabel trims, collapses inner whitespace and NFC-normalizes a
// display label so equal names compare equal regardless of input encoding.
func NormalizeLabel(label string) string {
	label = norm.NFC.String(strings.Join(strings.Fields(label), " "))
	if r := []rune(label); len(r) > maxLabelLen {
		label = string(r[:maxLabelLen])
	}
	return label
}

// sortParticipants orders participants by label using locale-aware collation,
// falling back to the identifier for equal labels.
func sortParticipants(tag language.Tag, ps []Participant) {
	c := collate.New(tag, collate.IgnoreCase)
	less := func(a, b Participant) bool {
		if cmp := c.CompareString(a.Label, b.Label); cmp != 0 {
			return cmp < 0
		}
		return a.ID < b.ID
	}
	sort.SliceStable(ps, func(i, j int) bool { return less(ps[i], ps[j]) })
}

func normText(s string) string { return norm.NFC.String(s) }
