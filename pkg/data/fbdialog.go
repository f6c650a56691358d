// Package data reads dialogue datasets in the numbered transcript format:
//
//	<n> <text>[\t<labels>[\t<reward>[\t<candidates>]]]
//
// Line numbers restart at 1 at the start of each episode. The labels and
// candidates fields hold alternatives separated by '|', and literal "\n"
// escapes stand for embedded newlines.
package data

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Turn is one parsed dialogue line.
type Turn struct {
	// Text is the partner's utterance.
	Text string

	// Labels holds the acceptable responses, when the line carries any.
	Labels []string

	// Reward is the raw reward field, empty when absent.
	Reward string

	// Candidates is the line's candidate set for ranking, when present.
	Candidates []string

	// EpisodeDone marks the final turn of an episode.
	EpisodeDone bool
}

// Reader streams turns from a transcript file. It keeps one line of
// lookahead so EpisodeDone can be set on the last turn of each episode.
type Reader struct {
	f    *os.File
	sc   *bufio.Scanner
	line int

	pending    *Turn
	pendingIdx int

	err error
}

// Open opens a transcript for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{f: f, sc: sc}, nil
}

// Next returns the next turn, or io.EOF after the last one.
func (r *Reader) Next() (Turn, error) {
	if r.pending == nil {
		if r.err != nil {
			return Turn{}, r.err
		}
		idx, turn, err := r.scanTurn()
		if err != nil {
			r.err = err
			return Turn{}, err
		}
		r.pending, r.pendingIdx = &turn, idx
	}

	turn := *r.pending
	idx, next, err := r.scanTurn()
	switch {
	case err != nil:
		// The lookahead failed; this turn closes its episode either way,
		// and the error surfaces on the following call.
		r.pending = nil
		r.err = err
		turn.EpisodeDone = true
	default:
		r.pending, r.pendingIdx = &next, idx
		// A restarted line counter opens a new episode.
		if idx == 1 {
			turn.EpisodeDone = true
		}
	}
	return turn, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// scanTurn reads and parses the next non-empty line.
func (r *Reader) scanTurn() (int, Turn, error) {
	for r.sc.Scan() {
		r.line++
		raw := strings.TrimSpace(r.sc.Text())
		if raw == "" {
			continue
		}
		idx, turn, err := parseLine(raw)
		if err != nil {
			return 0, Turn{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return idx, turn, nil
	}
	if err := r.sc.Err(); err != nil {
		return 0, Turn{}, fmt.Errorf("failed to read data file: %w", err)
	}
	return 0, Turn{}, io.EOF
}

// parseLine splits one numbered line into its fields.
func parseLine(line string) (int, Turn, error) {
	sp := strings.Index(line, " ")
	if sp <= 0 {
		return 0, Turn{}, fmt.Errorf("missing line index in %q", line)
	}
	idx, err := strconv.Atoi(line[:sp])
	if err != nil {
		return 0, Turn{}, fmt.Errorf("bad line index in %q", line)
	}

	var turn Turn
	fields := strings.Split(line[sp+1:], "\t")
	turn.Text = unescape(fields[0])
	if len(fields) > 1 && fields[1] != "" {
		turn.Labels = splitAlternatives(fields[1])
	}
	if len(fields) > 2 {
		turn.Reward = fields[2]
	}
	if len(fields) > 3 && fields[3] != "" {
		turn.Candidates = splitAlternatives(fields[3])
	}
	return idx, turn, nil
}

func splitAlternatives(field string) []string {
	parts := strings.Split(field, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = unescape(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
