package starspace

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Chat with the agent from the terminal",
	Long: `Open a terminal chat session against the loaded model. Each line you type
is ranked against the fixed candidate list and the best match comes back as
the reply.

Commands inside the session: :reset clears the conversation, :quit exits.`,
	RunE: runInteractive,
}

var interactiveTop int

// Terminal styles for the chat session.
var (
	stylePrompt = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	styleReply  = lipgloss.NewStyle().Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

func init() {
	rootCmd.AddCommand(interactiveCmd)

	interactiveCmd.Flags().IntVar(&interactiveTop, "top", 3, "Alternate replies to show under the answer")
	interactiveCmd.Flags().String("model-file", "", "Model checkpoint path")
	interactiveCmd.Flags().String("dict-file", "", "Dictionary path (defaults to the model file + .dict)")
	interactiveCmd.Flags().String("fixed-candidates-file", "", "Candidate list to rank replies from")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("model-file") {
		cfg.Model.File, _ = cmd.Flags().GetString("model-file")
	}
	if cmd.Flags().Changed("dict-file") {
		cfg.Dict.File, _ = cmd.Flags().GetString("dict-file")
	}
	if cmd.Flags().Changed("fixed-candidates-file") {
		cfg.Data.FixedCandidatesFile, _ = cmd.Flags().GetString("fixed-candidates-file")
	}
	log := newLogger(cfg)

	agent, err := starspace.New(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer agent.Close()

	if len(agent.FixedCandidates()) == 0 {
		return fmt.Errorf("interactive mode needs a candidate list: set --fixed-candidates-file")
	}

	fmt.Println(styleDim.Render(fmt.Sprintf(
		"%d candidate replies loaded. Type a message; :reset clears the conversation, :quit exits.",
		len(agent.FixedCandidates()))))

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(stylePrompt.Render("you> "))
		if !sc.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch line {
		case ":quit", ":q", ":exit":
			return nil
		case ":reset":
			agent.Reset()
			fmt.Println(styleDim.Render("conversation cleared"))
			continue
		}

		agent.Observe(starspace.Observation{Text: line})
		reply := agent.Act()
		if reply.Empty() {
			fmt.Println(styleDim.Render("(no reply)"))
			continue
		}

		fmt.Println(styleReply.Render("bot> " + reply.Text))
		if interactiveTop > 1 {
			for i, alt := range reply.TextCandidates {
				if i == 0 {
					continue
				}
				if i >= interactiveTop {
					break
				}
				fmt.Println(styleDim.Render(fmt.Sprintf("     %d. %s", i+1, alt)))
			}
		}
	}
	return sc.Err()
}
