package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan/internal/corpus"
	"github.com/happyhackingspace/henkan/segmenter"
)

func (c *CLI) newStatsCommand() *cobra.Command {
	var examples int

	cmd := &cobra.Command{
		Use:   "stats [corpus...]",
		Short: "Print corpus statistics",
		Example: `  henkan stats corpus.txt
  henkan stats corpus.txt --examples 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sentences, stats, err := corpus.Load(c.corpus(args)...)
			if err != nil {
				return err
			}
			if err := printJSON(c.stdout, stats); err != nil {
				return err
			}
			for i := 0; i < examples && i < len(sentences); i++ {
				s := sentences[i]
				_, _ = fmt.Fprintf(c.stdout, "%s:%d\t%s\n", s.Source, s.Line, segmenter.Format(s.Bunsetsu()))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&examples, "examples", 0, "Also print the first N sentences with their bunsetsu")
	return cmd
}
