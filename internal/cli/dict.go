package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan"
	"github.com/happyhackingspace/henkan/dictionary"
)

func (c *CLI) newMaterialsCommand() *cobra.Command {
	var (
		dicts  []string
		output string
	)

	cmd := &cobra.Command{
		Use:   "materials",
		Short: "Generate decode materials from the dictionaries",
		Example: `  henkan materials --dict system.json --dict user.json
  henkan materials --output henkan_materials.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := orDefault(output, c.cfg.Paths.Materials)
			m, err := henkan.GenerateMaterials(cmd.Context(), c.dictionaries(dicts), c.cfg.Decode.MergePolicy(), path)
			if err != nil {
				return err
			}
			slog.Info("Decode materials written", "path", path, "readings", len(m.Readings), "max_length", m.MaxLength)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dicts, "dict", nil, "Dictionary files, merged in order (default: config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output materials file (default: config)")
	return cmd
}

func (c *CLI) newDictCommand() *cobra.Command {
	dictCmd := &cobra.Command{
		Use:   "dict",
		Short: "Inspect and compile dictionaries",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var statDicts []string
	statsCmd := &cobra.Command{
		Use:     "stats",
		Short:   "Load and merge the dictionaries and print their statistics",
		Example: `  henkan dict stats --dict system.json --dict user.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := dictionary.NewStore(c.cfg.Decode.MergePolicy())
			result, err := store.Load(cmd.Context(), c.dictionaries(statDicts)...)
			if err != nil {
				return err
			}
			for _, f := range result.Failed {
				slog.Warn("Dictionary skipped", "source", f)
			}
			return printJSON(c.stdout, result.Stats)
		},
	}
	statsCmd.Flags().StringSliceVar(&statDicts, "dict", nil, "Dictionary files, merged in order (default: config)")

	var compileDicts []string
	compileCmd := &cobra.Command{
		Use:   "compile <output>",
		Short: "Merge the dictionaries into one JSON or SQLite file",
		Args:  cobra.ExactArgs(1),
		Example: `  henkan dict compile merged.db --dict system.json --dict user.json
  henkan dict compile merged.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0]
			table, loaded, failed, err := dictionary.LoadTables(cmd.Context(), c.cfg.Decode.MergePolicy(), c.dictionaries(compileDicts)...)
			if err != nil {
				return err
			}
			for _, f := range failed {
				slog.Warn("Dictionary skipped", "source", f)
			}
			if err := writeTable(cmd, out, table); err != nil {
				return err
			}
			slog.Info("Dictionary compiled", "path", out, "sources", len(loaded), "readings", table.Len(), "candidates", table.Candidates())
			return nil
		},
	}
	compileCmd.Flags().StringSliceVar(&compileDicts, "dict", nil, "Dictionary files, merged in order (default: config)")

	dictCmd.AddCommand(statsCmd)
	dictCmd.AddCommand(compileCmd)
	return dictCmd
}

func writeTable(cmd *cobra.Command, path string, t *dictionary.Table) error {
	if _, ok := dictionary.SourceFor(path).(dictionary.SQLiteFile); ok {
		return dictionary.SaveSQLite(cmd.Context(), path, t)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := dictionary.WriteJSON(w, t); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
