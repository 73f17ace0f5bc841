// Package corpus reads annotated training text and the intermediate
// feature format used between extraction and training.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/happyhackingspace/henkan/internal/textutil"
	"github.com/happyhackingspace/henkan/segmenter"
)

// ErrNoCorpus is returned when none of the given corpus files could be read.
var ErrNoCorpus = errors.New("corpus: no readable corpus file")

// Sentence is one parsed corpus line.
type Sentence struct {
	Tokens []string
	Labels []segmenter.Label
	Source string
	Line   int
}

// Bunsetsu reconstructs the segmentation of s.
func (s Sentence) Bunsetsu() []segmenter.Bunsetsu {
	return segmenter.BunsetsuFromLabels(s.Tokens, s.Labels)
}

// Stats aggregates corpus counts.
type Stats struct {
	Files               int `json:"files"`
	MissingFiles        int `json:"missing_files"`
	Lines               int `json:"lines"`
	Sentences           int `json:"sentences"`
	Tokens              int `json:"tokens"`
	Bunsetsu            int `json:"bunsetsu"`
	LookupBunsetsu      int `json:"lookup_bunsetsu"`
	PassthroughBunsetsu int `json:"passthrough_bunsetsu"`
}

func (st *Stats) add(s Sentence) {
	st.Sentences++
	st.Tokens += len(s.Tokens)
	for _, l := range s.Labels {
		switch l {
		case segmenter.LookupBegin:
			st.Bunsetsu++
			st.LookupBunsetsu++
		case segmenter.PassthroughBegin:
			st.Bunsetsu++
			st.PassthroughBunsetsu++
		}
	}
}

// ParseAnnotatedLine parses one corpus line. Bunsetsu are separated by
// whitespace; a leading or trailing underscore marks a passthrough
// bunsetsu. Underscores are stripped and bunsetsu left empty are dropped.
func ParseAnnotatedLine(line string) ([]string, []segmenter.Label) {
	var tokens []string
	var labels []segmenter.Label
	for _, part := range strings.Fields(line) {
		pass := strings.HasPrefix(part, "_") || strings.HasSuffix(part, "_")
		text := strings.Trim(part, "_")
		if text == "" {
			continue
		}
		begin := segmenter.LookupBegin
		if pass {
			begin = segmenter.PassthroughBegin
		}
		for i, tok := range textutil.Tokenize(text) {
			l := begin
			if i > 0 {
				l = begin.Inside()
			}
			tokens = append(tokens, tok)
			labels = append(labels, l)
		}
	}
	return tokens, labels
}

// Read parses annotated sentences from r. Blank lines and lines starting
// with '#' are skipped.
func Read(r io.Reader, source string) ([]Sentence, Stats, error) {
	var sentences []Sentence
	var st Stats

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		st.Lines++
		if strings.HasPrefix(line, "#") {
			continue
		}
		tokens, labels := ParseAnnotatedLine(line)
		if len(tokens) == 0 {
			continue
		}
		s := Sentence{Tokens: tokens, Labels: labels, Source: source, Line: lineNo}
		sentences = append(sentences, s)
		st.add(s)
	}
	if err := sc.Err(); err != nil {
		return sentences, st, fmt.Errorf("read %s: %w", source, err)
	}
	return sentences, st, nil
}

// Load reads every corpus file in order. Missing or unreadable files are
// logged, counted and skipped; ErrNoCorpus is returned only if no file
// could be read at all.
func Load(paths ...string) ([]Sentence, Stats, error) {
	var all []Sentence
	var total Stats

	for _, path := range paths {
		sentences, st, err := loadFile(path)
		if err != nil {
			slog.Warn("Cannot read corpus file", "path", path, "error", err)
			total.MissingFiles++
			continue
		}
		total.Files++
		total.Lines += st.Lines
		for _, s := range sentences {
			total.add(s)
		}
		all = append(all, sentences...)
		slog.Debug("Corpus file loaded", "path", path, "sentences", st.Sentences)
	}

	if total.Files == 0 {
		return nil, total, ErrNoCorpus
	}
	return all, total, nil
}

func loadFile(path string) ([]Sentence, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer func() { _ = f.Close() }()
	return Read(f, path)
}
