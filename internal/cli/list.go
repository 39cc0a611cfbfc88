package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zoobzio/scopez"
	"github.com/zoobzio/scopez/internal/scenario"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTRATEGIES\tDESCRIPTION")
			for _, s := range scenario.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, strategies(s.Strategies), s.Description)
			}
			return w.Flush()
		},
	}
}

func strategies(list []scopez.Strategy) string {
	if len(list) == 0 {
		return "all"
	}
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}
