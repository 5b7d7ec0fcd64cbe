package coaching

import (
	"strings"

	"finrep/internal/domain"
)

const feedbackHeader = "Additional instructions:"

// MergePrompt derives the next round's prompt from the current one and a scorecard.
// The result always contains every non-blank line of current: a proposal that drops
// lines only contributes its new lines, appended after the current prompt. Without a
// usable proposal, the missing and incorrect fields are turned into instructions.
func MergePrompt(current string, card *domain.Scorecard) string {
	if card == nil {
		return current
	}
	have := lineSet(current)

	if proposal := strings.TrimSpace(card.ImprovedPrompt); proposal != "" {
		if containsAll(lineSet(proposal), have) {
			return proposal
		}
		if added := newLines(proposal, have); len(added) > 0 {
			return strings.TrimRight(current, "\n") + "\n\n" + strings.Join(added, "\n")
		}
	}

	var added []string
	if len(card.MissingFields) > 0 {
		added = append(added, "- Make sure to extract: "+strings.Join(card.MissingFields, ", ")+".")
	}
	if len(card.IncorrectFields) > 0 {
		added = append(added, "- Re-check the values of: "+strings.Join(card.IncorrectFields, ", ")+".")
	}
	added = newLines(strings.Join(added, "\n"), have)
	if len(added) == 0 {
		return current
	}
	out := strings.TrimRight(current, "\n")
	if _, ok := have[feedbackHeader]; !ok {
		out += "\n\n" + feedbackHeader
	}
	return out + "\n" + strings.Join(added, "\n")
}

func lineSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

func containsAll(super, sub map[string]struct{}) bool {
	for l := range sub {
		if _, ok := super[l]; !ok {
			return false
		}
	}
	return true
}

func newLines(s string, have map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := have[l]; ok {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
