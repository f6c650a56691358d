package starspace

// Observation is one dialogue turn presented to an agent. Data sources fill
// the raw fields; Observe adds the derived TextVec before the turn is acted
// on.
type Observation struct {
	// Text is the raw utterance for this turn.
	Text string `json:"text,omitempty"`

	// Labels holds the acceptable responses when training.
	Labels []string `json:"labels,omitempty"`

	// EvalLabels holds the acceptable responses during evaluation; they
	// feed the dialog history but never the training step.
	EvalLabels []string `json:"eval_labels,omitempty"`

	// LabelCandidates is the ordered candidate set to rank at inference.
	LabelCandidates []string `json:"label_candidates,omitempty"`

	// EpisodeDone marks the final turn of an episode.
	EpisodeDone bool `json:"episode_done,omitempty"`

	// TextVec is the tokenized, history-augmented context. Observe fills
	// it in; observations without one are skipped by BatchAct.
	TextVec []int `json:"-"`
}

// Metrics reports one training step.
type Metrics struct {
	// MeanRank counts the negatives that scored at least as high as the
	// positive; zero means the positive outranked every negative.
	MeanRank int `json:"mean_rank"`

	// Loss is the summed ranking loss over the step's candidate pairs.
	Loss float64 `json:"loss"`

	// Negatives is the number of negatives actually drawn, which can fall
	// short of the configured sample count while the cache warms up.
	Negatives int `json:"negatives"`
}

// Reply is the agent's structured output for one observation. A reply with
// no text and no metrics signals that the agent had nothing actionable for
// that turn.
type Reply struct {
	ID string `json:"id,omitempty"`

	// Text is the top-ranked candidate at inference time.
	Text string `json:"text,omitempty"`

	// TextCandidates is the full ranking, best first, capped at 100.
	TextCandidates []string `json:"text_candidates,omitempty"`

	// Metrics is set on training replies.
	Metrics *Metrics `json:"metrics,omitempty"`
}

// Empty reports whether the reply carries neither a prediction nor metrics.
func (r Reply) Empty() bool {
	return r.Text == "" && len(r.TextCandidates) == 0 && r.Metrics == nil
}
