package starspace

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/starspace/pkg/dict"
)

// LoadCandidates reads a fixed candidate list, one candidate per non-empty
// line. Three layouts are auto-detected:
//
//   - plain: every line is a candidate.
//   - numbered: lines carry "1 "-style index prefixes, stripped before use.
//   - reply form: lines contain tab-separated dialogue pairs; only the
//     second field of each line is kept. Detection is sticky: the first
//     line seen with a tab restarts accumulation and the whole file is
//     treated as reply form.
//
// Literal "\n" escapes are unescaped to real newlines.
func LoadCandidates(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candidates file: %w", err)
	}
	defer f.Close()

	var cands []string
	linesHaveIDs := false
	candsAreReplies := false
	cnt := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.ReplaceAll(strings.TrimSpace(sc.Text()), `\n`, "\n")
		if line == "" {
			continue
		}
		cnt++
		if cnt == 1 && strings.HasPrefix(line, "1 ") {
			linesHaveIDs = true
		}
		if strings.Contains(line, "\t") && !candsAreReplies {
			candsAreReplies = true
			cands = cands[:0]
		}
		if linesHaveIDs {
			if sp := strings.Index(line, " "); sp >= 0 {
				line = line[sp+1:]
			}
		}
		if candsAreReplies {
			parts := strings.Split(line, "\t")
			if len(parts) > 1 && parts[1] != "" {
				cands = append(cands, parts[1])
			}
			continue
		}
		cands = append(cands, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}
	return cands, nil
}

// tokenizeAll vectorizes texts concurrently, preserving order. Fixed
// candidate lists run to six figures, so the fan-out matters at startup.
func tokenizeAll(d *dict.Dictionary, texts []string) [][]int {
	vecs := make([][]int, len(texts))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vecs[i] = d.TxtToVec(text)
			return nil
		})
	}
	_ = g.Wait()
	return vecs
}
