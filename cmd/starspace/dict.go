package starspace

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/starspace/pkg/config"
)

var dictCmd = &cobra.Command{
	Use:   "dict <data-file>",
	Short: "Build a dictionary from a dialog file",
	Long: `Scan a dialog file and build the token vocabulary: every text, label, and
candidate contributes tokens, the vocabulary is sorted by descending
frequency, and the result is written to the dictionary file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDict,
}

func init() {
	rootCmd.AddCommand(dictCmd)

	dictCmd.Flags().String("dict-file", "", "Output dictionary path")
	dictCmd.Flags().Int("min-freq", 0, "Drop tokens seen fewer than this many times")
	dictCmd.Flags().Int("max-tokens", 0, "Cap the vocabulary size (0 is unlimited)")
}

func runDict(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("dict-file") {
		cfg.Dict.File, _ = cmd.Flags().GetString("dict-file")
	}
	if cmd.Flags().Changed("min-freq") {
		cfg.Dict.MinFreq, _ = cmd.Flags().GetInt("min-freq")
	}
	if cmd.Flags().Changed("max-tokens") {
		cfg.Dict.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")
	}
	log := newLogger(cfg)

	path := cfg.DictFile()
	if path == "" {
		return fmt.Errorf("no dictionary path: set --dict-file or dict.file")
	}

	d, err := buildDictionary(cfg, log, args[0])
	if err != nil {
		return err
	}
	if err := d.Save(path); err != nil {
		return fmt.Errorf("failed to save dictionary: %w", err)
	}
	log.Info("saved dictionary", "path", path, "tokens", d.Len())

	// After Sort the vocabulary is frequency-ordered past the two reserved
	// tokens; show the head of it.
	fmt.Println("most frequent tokens:")
	for i := 2; i < d.Len() && i < 12; i++ {
		tok := d.Token(i)
		fmt.Printf("%6d  %s\n", d.Freq(tok), tok)
	}
	return nil
}
