package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var (
		lex     lexiconFlags
		cvFolds int
	)

	cmd := &cobra.Command{
		Use:     "evaluate [corpus...]",
		Short:   "Evaluate segmentation accuracy via cross-validation",
		Example: `  henkan evaluate corpus.txt --cv 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			trainer := c.cfg.Training.TrainerConfig()
			slog.Info("Evaluating", "folds", cvFolds)
			start := time.Now()
			result, err := henkan.Evaluate(cmd.Context(), c.corpus(args), &henkan.EvalConfig{
				LexiconConfig: c.lexiconConfig(&lex),
				Folds:         cvFolds,
				Trainer:       &trainer,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			_, _ = fmt.Fprintf(c.stdout, "Token accuracy: %.1f%% (%d/%d)\n",
				result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
			_, _ = fmt.Fprintf(c.stdout, "Sentence accuracy: %.1f%% (%d/%d)\n",
				result.SentenceAccuracy*100, result.SentenceCorrect, result.SentenceTotal)
			return nil
		},
	}

	lex.register(cmd)
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	return cmd
}
