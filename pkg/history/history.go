// Package history tracks the running dialog context for one conversation.
//
// The tracker keeps a flat sequence of token indices with a fixed token
// budget, evicting the oldest tokens first. Depending on the configured
// reply policy, it splices the previous turn's reply or gold label into the
// context before appending the new utterance.
package history

import (
	"fmt"

	"github.com/soundprediction/starspace/pkg/dict"
)

// Policy selects which reply text gets folded into the dialog context at the
// start of each turn.
type Policy string

const (
	// PolicyNone never injects replies.
	PolicyNone Policy = "none"
	// PolicyModel injects the model's own previous reply.
	PolicyModel Policy = "model"
	// PolicyLabel injects the previous turn's gold label when one exists.
	PolicyLabel Policy = "label"
	// PolicyLabelElseModel prefers the gold label and falls back to the
	// model reply when no label was given.
	PolicyLabelElseModel Policy = "label_else_model"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyNone, PolicyModel, PolicyLabel, PolicyLabelElseModel:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown history reply policy %q", s)
	}
}

// Tracker accumulates dialog context for a single conversation. It is not
// safe for concurrent use; each agent instance owns its own tracker.
type Tracker struct {
	dict   *dict.Dictionary
	budget int
	policy Policy

	dialog        []int
	labels        []string
	lastUtterance []int
	episodeDone   bool
}

// NewTracker creates a tracker holding at most budget tokens. A budget of
// zero or less keeps the full context.
func NewTracker(d *dict.Dictionary, budget int, policy Policy) *Tracker {
	return &Tracker{dict: d, budget: budget, policy: policy}
}

// Update folds one observation into the context and returns a copy of the
// resulting token sequence. The text is vectorized and appended after any
// reply injection the policy calls for. labels should be the gold labels of
// this observation when known (training) and nil otherwise; a non-nil empty
// slice clears the stored labels. reply is the model's reply to the previous
// turn, used by the model policies.
//
// When the previous observation ended its episode, the context and stored
// labels are cleared before this turn is added, and no reply is injected.
func (t *Tracker) Update(text string, labels []string, episodeDone bool, reply string) []int {
	policy := t.policy
	if t.episodeDone {
		t.dialog = t.dialog[:0]
		t.labels = nil
		t.episodeDone = false
		policy = PolicyNone
	}

	switch {
	case policy == PolicyNone:
	case policy == PolicyModel || (policy == PolicyLabelElseModel && len(t.labels) == 0):
		if reply != "" {
			t.extend(t.dict.TxtToVec(reply))
		}
	case len(t.labels) > 0:
		t.extend(t.dict.TxtToVec(t.labels[0]))
	}

	if text != "" {
		parsed := t.dict.TxtToVec(text)
		t.extend(parsed)
		t.lastUtterance = parsed
	}

	t.episodeDone = episodeDone

	if labels != nil {
		t.labels = append([]string(nil), labels...)
	}

	return t.Dialog()
}

func (t *Tracker) extend(toks []int) {
	t.dialog = append(t.dialog, toks...)
	if t.budget > 0 && len(t.dialog) > t.budget {
		n := copy(t.dialog, t.dialog[len(t.dialog)-t.budget:])
		t.dialog = t.dialog[:n]
	}
}

// Dialog returns a copy of the current context tokens.
func (t *Tracker) Dialog() []int {
	return append([]int(nil), t.dialog...)
}

// LastUtterance returns the token sequence of the most recent non-empty
// utterance, ignoring any injected replies.
func (t *Tracker) LastUtterance() []int {
	return append([]int(nil), t.lastUtterance...)
}

// Reset clears all tracked state, starting a fresh conversation.
func (t *Tracker) Reset() {
	t.dialog = t.dialog[:0]
	t.labels = nil
	t.lastUtterance = nil
	t.episodeDone = false
}
