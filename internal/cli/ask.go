package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isoi-kec/instrrol/internal/faq"
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Print the assistant's answer to a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := faq.DefaultTable()
		if err != nil {
			return fmt.Errorf("loading rule table: %w", err)
		}
		answer := faq.NewMatcher(table).Respond(strings.Join(args, " "))
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
