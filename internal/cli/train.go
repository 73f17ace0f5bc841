package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/dictionary"
)

// lexiconFlags are shared by the commands that extract features.
type lexiconFlags struct {
	dicts     []string
	materials string
}

func (f *lexiconFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.dicts, "dict", nil, "Dictionary files to regenerate decode materials from (default: config)")
	cmd.Flags().StringVar(&f.materials, "materials", "", "Decode materials file (default: config)")
}

func (c *CLI) lexiconConfig(f *lexiconFlags) henkan.LexiconConfig {
	lc := henkan.LexiconConfig{
		Merge:         c.cfg.Decode.MergePolicy(),
		MaterialsPath: orDefault(f.materials, c.cfg.Paths.Materials),
	}
	// Materials are only regenerated when dictionaries are named explicitly.
	if len(f.dicts) > 0 {
		lc.Dictionaries = dictionary.SourcesFor(f.dicts)
	}
	return lc
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var (
		lex           lexiconFlags
		modelPath     string
		featuresPath  string
		c1, c2        float64
		maxIterations int
		progressEvery int
	)

	cmd := &cobra.Command{
		Use:   "train [corpus...]",
		Short: "Train a bunsetsu segmentation model on an annotated corpus",
		Example: `  henkan train corpus.txt --model henkan_model.json
  henkan train --features henkan_features.tsv
  henkan train corpus.txt --dict system.json --dict user.json -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			trainer := c.cfg.Training.TrainerConfig()
			if cmd.Flags().Changed("c1") {
				trainer.C1 = c1
			}
			if cmd.Flags().Changed("c2") {
				trainer.C2 = c2
			}
			if cmd.Flags().Changed("max-iterations") {
				trainer.MaxIterations = maxIterations
			}
			trainer.ProgressEvery = progressEvery
			trainer.Progress = func(p crf.Progress) {
				slog.Info("Training progress", "iteration", p.Iteration, "loss", p.Loss, "active", p.Active)
			}

			cfg := &henkan.TrainConfig{
				LexiconConfig: c.lexiconConfig(&lex),
				Trainer:       &trainer,
				ModelPath:     orDefault(modelPath, c.cfg.Paths.Model),
				FeaturesPath:  featuresPath,
			}
			slog.Info("Training", "model", cfg.ModelPath, "features", featuresPath)
			result, err := henkan.Train(cmd.Context(), c.corpus(args), cfg)
			if result != nil {
				_ = printJSON(c.stdout, result)
			}
			if err != nil {
				return err
			}
			slog.Info("Model saved", "path", result.ModelPath, "duration", result.TrainingTime)
			return nil
		},
	}

	lex.register(cmd)
	cmd.Flags().StringVar(&modelPath, "model", "", "Output model file (default: config)")
	cmd.Flags().StringVar(&featuresPath, "features", "", "Train from an extracted feature file instead of the corpus")
	cmd.Flags().Float64Var(&c1, "c1", 0, "L1 regularization coefficient (default: config)")
	cmd.Flags().Float64Var(&c2, "c2", 0, "L2 regularization coefficient (default: config)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Optimizer iteration limit (default: config)")
	cmd.Flags().IntVar(&progressEvery, "progress-every", 10, "Log training progress every N iterations")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}
