package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isoi-kec/instrrol/internal/ladder"
)

var (
	verifyLevel int
	evalInputs  string
)

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "List the puzzle levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		levels, err := ladder.DefaultLevels()
		if err != nil {
			return fmt.Errorf("loading levels: %w", err)
		}
		out := cmd.OutOrStdout()
		for i, l := range levels {
			palette := make([]string, len(l.AvailableBlocks))
			for j, k := range l.AvailableBlocks {
				palette[j] = string(k)
			}
			fmt.Fprintf(out, "%d. %s (%d blocks: %s)\n   %s\n",
				i+1, l.Title, l.RequiredBlocks, strings.Join(palette, ", "), l.Objective)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify --level N KIND...",
	Short: "Verify a rung against a level's test cases",
	Long: `Verify places the given blocks left to right (position 0 first) and runs
the level's verification. Kinds are NO, NC, COIL and TIMER (or TON).

Example:
  instrrolctl verify --level 3 NO NC COIL`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		levels, err := ladder.DefaultLevels()
		if err != nil {
			return fmt.Errorf("loading levels: %w", err)
		}
		if verifyLevel < 1 || verifyLevel > len(levels) {
			return fmt.Errorf("--level must be between 1 and %d", len(levels))
		}
		level := levels[verifyLevel-1]

		rung, err := buildRung(args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		v := ladder.Verify(level, rung)
		if v.Status == ladder.StatusSuccess {
			fmt.Fprintf(out, "level %d %q: success\n", verifyLevel, level.Title)
		} else {
			fmt.Fprintf(out, "level %d %q: error (%s)\n", verifyLevel, level.Title, v.Reason)
		}
		if v.Malformed() {
			return nil
		}

		for i, tc := range level.TestCases {
			got := ladder.Evaluate(rung, tc.Inputs)
			mark := "ok"
			if got != tc.Expected {
				mark = "FAIL"
			}
			fmt.Fprintf(out, "  case %d: inputs=%s expected=%s got=%s %s\n",
				i+1, formatInputs(tc.Inputs), onOff(tc.Expected), onOff(got), mark)
		}
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval --inputs 1,0 KIND...",
	Short: "Evaluate a rung for one input vector",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rung, err := buildRung(args)
		if err != nil {
			return err
		}
		inputs, err := parseInputs(evalInputs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "output: %s\n", onOff(ladder.Evaluate(rung, inputs)))
		return nil
	},
}

func init() {
	verifyCmd.Flags().IntVar(&verifyLevel, "level", 1, "level number, starting at 1")
	evalCmd.Flags().StringVar(&evalInputs, "inputs", "", "comma-separated contact inputs, e.g. 1,0")

	rootCmd.AddCommand(levelsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(evalCmd)
}

// buildRung places kinds at positions 0..n-1.
func buildRung(kinds []string) ([]ladder.PlacedBlock, error) {
	rung := make([]ladder.PlacedBlock, 0, len(kinds))
	for i, s := range kinds {
		k, err := ladder.ParseKind(strings.ToUpper(s))
		if err != nil {
			return nil, err
		}
		block, _ := ladder.Lookup(k)
		rung = append(rung, ladder.PlacedBlock{
			ID:       fmt.Sprintf("%s-%d", k, i),
			Block:    block,
			Position: i,
		})
	}
	return rung, nil
}

func parseInputs(raw string) ([]bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	inputs := make([]bool, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseBool(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid input %q: use 1/0 or true/false", p)
		}
		inputs[i] = v
	}
	return inputs, nil
}

func formatInputs(inputs []bool) string {
	parts := make([]string, len(inputs))
	for i, v := range inputs {
		if v {
			parts[i] = "1"
		} else {
			parts[i] = "0"
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
