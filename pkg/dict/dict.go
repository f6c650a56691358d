// Package dict provides the token dictionary mapping between raw text and
// token-index sequences.
//
// Index 0 is reserved for the null (padding) token and index 1 for the
// unknown token. All other indices are assigned in insertion order and can be
// re-ranked by frequency with Sort. Dictionaries persist as plain text, one
// "token<TAB>count" line per entry, in index order.
package dict

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// NullToken pads batches; it is always index 0.
	NullToken = "__null__"
	// UnkToken stands in for out-of-vocabulary words; it is always index 1.
	UnkToken = "__unk__"

	// NullIndex is the reserved padding index.
	NullIndex = 0
	// UnkIndex is the reserved unknown-word index.
	UnkIndex = 1
)

// wordRE splits text into word runs and single punctuation marks.
var wordRE = regexp.MustCompile(`\w+|[^\w\s]`)

// Options configures a Dictionary.
type Options struct {
	// Lowercase folds all text to lower case before tokenizing.
	Lowercase bool

	// MinFreq drops tokens observed fewer than this many times when Sort
	// runs. Zero keeps everything.
	MinFreq int

	// MaxTokens caps the vocabulary size (including the reserved tokens)
	// when Sort runs. Zero means unlimited.
	MaxTokens int

	// CacheSize is the number of TxtToVec results to memoize. Zero disables
	// the cache.
	CacheSize int
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{Lowercase: true, CacheSize: 4096}
}

// Dictionary is a mutable token vocabulary with frequency counts.
// It is not safe for concurrent mutation; concurrent reads are fine once
// building has finished.
type Dictionary struct {
	opts Options

	tok2ind map[string]int
	ind2tok []string
	freq    map[string]int

	cache *lru.Cache[string, []int]
}

// New creates an empty dictionary containing only the reserved tokens.
func New(opts Options) *Dictionary {
	d := &Dictionary{
		opts:    opts,
		tok2ind: make(map[string]int),
		freq:    make(map[string]int),
	}
	if opts.CacheSize > 0 {
		// lru.New only fails on a non-positive size.
		d.cache, _ = lru.New[string, []int](opts.CacheSize)
	}
	d.addToken(NullToken)
	d.addToken(UnkToken)
	return d
}

// Len returns the vocabulary size, reserved tokens included.
func (d *Dictionary) Len() int {
	return len(d.ind2tok)
}

// Tokenize splits text into tokens, lowercasing first when configured.
func (d *Dictionary) Tokenize(text string) []string {
	if d.opts.Lowercase {
		text = strings.ToLower(text)
	}
	return wordRE.FindAllString(text, -1)
}

// Add observes the tokens of text, growing the vocabulary and counts.
func (d *Dictionary) Add(text string) {
	for _, tok := range d.Tokenize(text) {
		d.addToken(tok)
		d.freq[tok]++
	}
	d.purgeCache()
}

func (d *Dictionary) addToken(tok string) {
	if _, ok := d.tok2ind[tok]; ok {
		return
	}
	d.tok2ind[tok] = len(d.ind2tok)
	d.ind2tok = append(d.ind2tok, tok)
}

// Sort re-ranks the vocabulary by descending frequency, applying the MinFreq
// and MaxTokens limits. Reserved tokens keep their indices. Existing
// token-index sequences become stale after a Sort.
func (d *Dictionary) Sort() {
	words := make([]string, 0, len(d.ind2tok))
	for _, tok := range d.ind2tok[2:] {
		if d.opts.MinFreq > 0 && d.freq[tok] < d.opts.MinFreq {
			continue
		}
		words = append(words, tok)
	}
	sort.SliceStable(words, func(i, j int) bool {
		return d.freq[words[i]] > d.freq[words[j]]
	})
	if d.opts.MaxTokens > 0 && len(words) > d.opts.MaxTokens-2 {
		words = words[:d.opts.MaxTokens-2]
	}

	d.tok2ind = map[string]int{NullToken: NullIndex, UnkToken: UnkIndex}
	d.ind2tok = append([]string{NullToken, UnkToken}, words...)
	freq := make(map[string]int, len(words))
	for _, tok := range words {
		d.tok2ind[tok] = len(d.tok2ind)
		freq[tok] = d.freq[tok]
	}
	d.freq = freq
	d.purgeCache()
}

// Index returns the index of tok, or UnkIndex when unknown.
func (d *Dictionary) Index(tok string) int {
	if d.opts.Lowercase {
		tok = strings.ToLower(tok)
	}
	if ind, ok := d.tok2ind[tok]; ok {
		return ind
	}
	return UnkIndex
}

// Token returns the token at ind, or the unknown token for bad indices.
func (d *Dictionary) Token(ind int) string {
	if ind < 0 || ind >= len(d.ind2tok) {
		return UnkToken
	}
	return d.ind2tok[ind]
}

// Freq returns how many times tok has been observed.
func (d *Dictionary) Freq(tok string) int {
	if d.opts.Lowercase {
		tok = strings.ToLower(tok)
	}
	return d.freq[tok]
}

// FreqByIndex returns the observation count for the token at ind.
func (d *Dictionary) FreqByIndex(ind int) int {
	if ind < 0 || ind >= len(d.ind2tok) {
		return 0
	}
	return d.freq[d.ind2tok[ind]]
}

// TxtToVec converts text to a token-index sequence. Unknown words map to
// UnkIndex. Results are memoized; the returned slice is always a fresh copy.
func (d *Dictionary) TxtToVec(text string) []int {
	if d.cache != nil {
		if vec, ok := d.cache.Get(text); ok {
			return append([]int(nil), vec...)
		}
	}
	toks := d.Tokenize(text)
	vec := make([]int, len(toks))
	for i, tok := range toks {
		if ind, ok := d.tok2ind[tok]; ok {
			vec[i] = ind
		} else {
			vec[i] = UnkIndex
		}
	}
	if d.cache != nil {
		d.cache.Add(text, append([]int(nil), vec...))
	}
	return vec
}

// VecToTxt converts a token-index sequence back to a space-joined string.
// Null indices are skipped.
func (d *Dictionary) VecToTxt(vec []int) string {
	toks := make([]string, 0, len(vec))
	for _, ind := range vec {
		if ind == NullIndex {
			continue
		}
		toks = append(toks, d.Token(ind))
	}
	return strings.Join(toks, " ")
}

func (d *Dictionary) purgeCache() {
	if d.cache != nil {
		d.cache.Purge()
	}
}

// Save writes the dictionary to path, one "token<TAB>count" line per entry
// in index order.
func (d *Dictionary) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dictionary file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range d.ind2tok {
		fmt.Fprintf(w, "%s\t%d\n", tok, d.freq[tok])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dictionary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close dictionary file: %w", err)
	}
	return nil
}

// Load reads a dictionary previously written by Save. File order defines the
// indices, so a saved dictionary vectorizes identically after loading.
func Load(path string, opts Options) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary file: %w", err)
	}
	defer f.Close()

	d := &Dictionary{
		opts:    opts,
		tok2ind: make(map[string]int),
		freq:    make(map[string]int),
	}
	if opts.CacheSize > 0 {
		d.cache, _ = lru.New[string, []int](opts.CacheSize)
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		tok, countStr, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("malformed dictionary line %d: %q", line, text)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return nil, fmt.Errorf("malformed count on dictionary line %d: %w", line, err)
		}
		d.addToken(tok)
		if count > 0 {
			d.freq[tok] = count
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary file: %w", err)
	}
	if d.Len() < 2 || d.ind2tok[NullIndex] != NullToken || d.ind2tok[UnkIndex] != UnkToken {
		return nil, fmt.Errorf("dictionary file %s is missing the reserved tokens", path)
	}
	return d, nil
}
