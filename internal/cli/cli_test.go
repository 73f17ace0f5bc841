package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runLogged(t, append([]string{"-s"}, args...)...)
	return out, err
}

// runLogged executes the CLI and returns its stdout and log output.
func runLogged(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	c := New("test")
	var out, logs bytes.Buffer
	c.stdout = &out
	c.stderr = &logs
	c.rootCmd.SetArgs(args)
	err := c.rootCmd.Execute()
	return out.String(), logs.String(), err
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warn "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("へんかん\n\n  きょう \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"へんかん", "きょう"}, lines)

	_, err = readLines(strings.NewReader("\n \n"))
	assert.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte("きょう _は_ てんき _が_ よい\n"), 0o644))

	out, err := run(t, "stats", path, "--examples", "1")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var stats map[string]int
	require.NoError(t, dec.Decode(&stats))
	assert.Equal(t, 1, stats["sentences"])
	assert.Equal(t, 10, stats["tokens"])
	assert.Equal(t, 5, stats["bunsetsu"])
	assert.Equal(t, 2, stats["passthrough_bunsetsu"])
	assert.Contains(t, out, path+":1\t")
}

func TestDictCompileAndStats(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	system := filepath.Join(dir, "system.json")
	user := filepath.Join(dir, "user.json")
	require.NoError(t, os.WriteFile(system, []byte(`{"へんかん": {"変換": 5, "返還": 1}}`), 0o644))
	require.NoError(t, os.WriteFile(user, []byte(`{"へんかん": {"返還": 9}, "きょう": {"今日": 3}}`), 0o644))

	merged := filepath.Join(dir, "merged.db")
	_, err := run(t, "dict", "compile", merged, "--dict", system, "--dict", user)
	require.NoError(t, err)

	out, err := run(t, "dict", "stats", "--dict", merged)
	require.NoError(t, err)
	var stats struct {
		Readings   int `json:"readings"`
		Candidates int `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Readings)
	assert.Equal(t, 3, stats.Candidates)
}

func TestConvertWithoutModel(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dict := filepath.Join(dir, "system.json")
	require.NoError(t, os.WriteFile(dict, []byte(`{"へんかん": {"変換": 5, "返還": 1}}`), 0o644))

	out, err := run(t, "convert", "へんかん", "ミライ", "--dict", dict)
	require.NoError(t, err)

	var results []conversionResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "whole-word", results[0].State)
	assert.Equal(t, "変換", results[0].Surface)
	assert.Len(t, results[0].Candidates, 2)
	assert.Equal(t, 0, results[0].Selected)
	assert.Equal(t, "みらい", results[1].Reading)
	assert.Equal(t, "みらい", results[1].Surface)
}

const trainingCorpus = `きょう _は_ てんき _が_ よい
あした _は_ あめ _が_ ふる
いく _から_
てんき _が_ わるい
`

func TestTrainLogsProgressThenTestMarginals(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	corpusPath := filepath.Join(dir, "corpus.txt")
	modelPath := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(corpusPath, []byte(trainingCorpus), 0o644))

	out, logs, err := runLogged(t, "train", corpusPath, "--model", modelPath, "--progress-every", "1", "--max-iterations", "20")
	require.NoError(t, err)
	assert.Contains(t, logs, "Training progress")
	assert.Contains(t, logs, "iteration=")

	var result struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)

	out, err = run(t, "test", "きょうは", "--model", modelPath, "--marginals")
	require.NoError(t, err)
	var marginals []map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &marginals))
	require.Len(t, marginals, 4)
	assert.Contains(t, marginals[0], "B-L")
}
