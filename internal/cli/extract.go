package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
)

func (c *CLI) newExtractCommand() *cobra.Command {
	var (
		lex    lexiconFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "extract [corpus...]",
		Short: "Write the training feature file for an annotated corpus",
		Example: `  henkan extract corpus.txt --output henkan_features.tsv
  henkan extract corpus.txt --dict system.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := henkan.Extract(cmd.Context(), c.corpus(args), &henkan.ExtractConfig{
				LexiconConfig: c.lexiconConfig(&lex),
				OutputPath:    orDefault(output, c.cfg.Paths.Features),
				Progress: func(done, total int) {
					slog.Debug("Extracting features", "done", done, "total", total)
				},
			})
			if err != nil {
				return err
			}
			slog.Info("Features written", "path", result.OutputPath, "sentences", result.Stats.Sentences)
			return printJSON(c.stdout, result)
		},
	}

	lex.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output feature file (default: config)")
	return cmd
}
