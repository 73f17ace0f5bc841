package corpus

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/happyhackingspace/henkan/segmenter"
)

// ReadStats counts what ReadFeatures kept and dropped.
type ReadStats struct {
	Sentences       int
	Rows            int
	SkippedRows     int
	SkippedFeatures int
	// RepairedSentences had ill-formed labels, usually after a skipped
	// row, and were rewritten with segmenter.Repair.
	RepairedSentences int
}

// WriteFeatures writes examples in the intermediate format: a
// "# sentence N" marker, then one row per token holding the surface,
// the label and its features as tab separated key=value columns, and a
// blank line between sentences.
func WriteFeatures(w io.Writer, examples []segmenter.Example) error {
	bw := bufio.NewWriter(w)
	for i, ex := range examples {
		if len(ex.Tokens) != len(ex.Labels) || len(ex.Tokens) != len(ex.Features) {
			return fmt.Errorf("sentence %d: %d tokens, %d labels, %d feature sets",
				i+1, len(ex.Tokens), len(ex.Labels), len(ex.Features))
		}
		if i > 0 {
			_ = bw.WriteByte('\n')
		}
		fmt.Fprintf(bw, "# sentence %d\n", i+1)
		for j, tok := range ex.Tokens {
			bw.WriteString(tok)
			bw.WriteByte('\t')
			bw.WriteString(ex.Labels[j].String())
			for _, f := range ex.Features[j] {
				bw.WriteByte('\t')
				bw.WriteString(f.String())
			}
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// ReadFeatures parses the intermediate format. A line starting with '#'
// and containing no tab is a comment, so a "#" token row still parses.
// Rows with fewer than two columns or an unknown label are skipped, as
// are feature columns with an unknown key.
func ReadFeatures(r io.Reader) ([]segmenter.Example, ReadStats, error) {
	var out []segmenter.Example
	var st ReadStats
	var cur segmenter.Example

	flush := func() {
		if len(cur.Tokens) > 0 {
			if !segmenter.WellFormed(cur.Labels) {
				segmenter.Repair(cur.Labels)
				st.RepairedSentences++
			}
			out = append(out, cur)
			st.Sentences++
		}
		cur = segmenter.Example{}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") && !strings.Contains(line, "\t") {
			flush()
			continue
		}

		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			slog.Debug("Skipping malformed feature row", "line", lineNo)
			st.SkippedRows++
			continue
		}
		label, err := segmenter.ParseLabel(cols[1])
		if err != nil {
			slog.Debug("Skipping feature row", "line", lineNo, "error", err)
			st.SkippedRows++
			continue
		}
		fs := make(segmenter.FeatureSet, 0, len(cols)-2)
		for _, col := range cols[2:] {
			f, err := segmenter.ParseFeature(col)
			if err != nil {
				st.SkippedFeatures++
				continue
			}
			fs = append(fs, f)
		}
		cur.Tokens = append(cur.Tokens, cols[0])
		cur.Labels = append(cur.Labels, label)
		cur.Features = append(cur.Features, fs)
		st.Rows++
	}
	flush()
	if err := sc.Err(); err != nil {
		return out, st, err
	}
	if st.SkippedRows > 0 || st.SkippedFeatures > 0 || st.RepairedSentences > 0 {
		slog.Warn("Skipped malformed feature data",
			"rows", st.SkippedRows, "features", st.SkippedFeatures, "repaired", st.RepairedSentences)
	}
	return out, st, nil
}

// SaveFeatures writes examples to path.
func SaveFeatures(path string, examples []segmenter.Example) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteFeatures(f, examples); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LoadFeatures reads examples from path.
func LoadFeatures(path string) ([]segmenter.Example, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer func() { _ = f.Close() }()
	ex, st, err := ReadFeatures(f)
	if err != nil {
		return nil, st, fmt.Errorf("read %s: %w", path, err)
	}
	return ex, st, nil
}
