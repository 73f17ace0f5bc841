package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
	"github.com/happyhackingspace/henkan/conversion"
	"github.com/happyhackingspace/henkan/internal/textutil"
)

// conversionResult is the printed state of one engine after a submit.
type conversionResult struct {
	Reading     string                 `json:"reading"`
	State       string                 `json:"state"`
	Surface     string                 `json:"surface"`
	Candidates  []conversion.Candidate `json:"candidates"`
	Selected    int                    `json:"selected"`
	Prediction  int                    `json:"prediction"`
	Predictions int                    `json:"predictions"`
	Segments    []conversion.Segment   `json:"segments,omitempty"`
}

func (c *CLI) newConvertCommand() *cobra.Command {
	var (
		dicts     []string
		modelPath string
		materials string
		cycle     int
	)

	cmd := &cobra.Command{
		Use:   "convert [reading...]",
		Short: "Convert kana readings to kanji",
		Example: `  # Convert readings given as arguments
  henkan convert へんかん きょうはてんきがよい

  # One reading per line from stdin
  cat readings.txt | henkan convert

  # Show the second segmentation
  henkan convert きょうはてんきがよい --cycle 1 --dict system.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			readings := args
			if len(readings) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				var err error
				readings, err = readLines(os.Stdin)
				if err != nil {
					return err
				}
			}

			svc, err := henkan.NewService(henkan.Options{
				Dictionaries:  c.dictionaries(dicts),
				Merge:         c.cfg.Decode.MergePolicy(),
				ModelPath:     orDefault(modelPath, c.cfg.Paths.Model),
				MaterialsPath: orDefault(materials, c.cfg.Paths.Materials),
				NBest:         c.cfg.Decode.NBest,
				CacheSize:     c.cfg.Decode.CacheSize,
			})
			if err != nil {
				return err
			}
			start := time.Now()
			if err := <-svc.Open(cmd.Context()); err != nil {
				// Partial resources still convert; the engine degrades.
				slog.Debug("Service opened with errors", "error", err)
			}
			slog.Debug("Service ready", "duration", time.Since(start), "dictionary", svc.Ready(), "model", svc.ModelReady())

			engine := svc.NewEngine()
			results := make([]conversionResult, 0, len(readings))
			for _, r := range readings {
				engine.Submit(textutil.NormalizeReading(r))
				for range cycle {
					if !engine.CyclePrediction() {
						break
					}
				}
				results = append(results, snapshot(engine))
			}
			return printJSON(c.stdout, results)
		},
	}

	cmd.Flags().StringSliceVar(&dicts, "dict", nil, "Dictionary files, merged in order (default: config)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model file (default: config)")
	cmd.Flags().StringVar(&materials, "materials", "", "Decode materials file (default: config)")
	cmd.Flags().IntVar(&cycle, "cycle", 0, "Cycle the segmentation this many times before printing")
	return cmd
}

func snapshot(e *conversion.Engine) conversionResult {
	return conversionResult{
		Reading:     e.Reading(),
		State:       e.State().String(),
		Surface:     e.DisplaySurface(),
		Candidates:  e.Candidates(),
		Selected:    e.SelectedIndex(),
		Prediction:  e.Prediction(),
		Predictions: e.Predictions(),
		Segments:    e.Segments(),
	}
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func readLines(r io.Reader) ([]string, error) {
	slog.Debug("Reading from stdin")
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return lines, nil
}
