package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
)

func (c *CLI) newTestCommand() *cobra.Command {
	var (
		modelPath string
		materials string
		nBest     int
		asJSON    bool
		marginals bool
	)

	cmd := &cobra.Command{
		Use:   "test <reading>",
		Short: "Show the N-best bunsetsu segmentations of a reading",
		Args:  cobra.ExactArgs(1),
		Example: `  henkan test きょうはてんきがよい
  henkan test キョウハ --nbest 3 --json
  henkan test きょうは --marginals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seg, err := henkan.LoadSegmenter(
				orDefault(modelPath, c.cfg.Paths.Model),
				orDefault(materials, c.cfg.Paths.Materials))
			if err != nil {
				return err
			}
			if marginals {
				m, err := seg.Marginals(args[0])
				if err != nil {
					return err
				}
				return printJSON(c.stdout, m)
			}
			if !cmd.Flags().Changed("nbest") {
				nBest = c.cfg.Decode.NBest
			}
			results, err := seg.Test(args[0], nBest)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(c.stdout, results)
			}
			for i, r := range results {
				_, _ = fmt.Fprintf(c.stdout, "%d\t%.4f\t%s\n", i+1, r.Score, r.Formatted)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Model file (default: config)")
	cmd.Flags().StringVar(&materials, "materials", "", "Decode materials file (default: config)")
	cmd.Flags().IntVarP(&nBest, "nbest", "n", 0, "Number of segmentations (default: config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print labels and bunsetsu as JSON")
	cmd.Flags().BoolVar(&marginals, "marginals", false, "Print per-token label probabilities instead")
	return cmd
}
