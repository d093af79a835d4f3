package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"UsdnLedger/internal/config"

	"github.com/spf13/cobra"
)

func NewParamsCmd() *cobra.Command {
	var file string

	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "Print the effective protocol parameters",
		Long:  "Loads the protocol file over the defaults, validates it and prints every parameter in human units.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := config.LoadProtocolFile(file)
			if err != nil {
				return err
			}
			described := config.Describe(params)
			keys := make([]string, 0, len(described))
			for k := range described {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", k, described[k])
			}
			return w.Flush()
		},
	}
	paramsCmd.Flags().StringVar(&file, "file", os.Getenv("USDN_PROTOCOL_FILE"), "protocol YAML file (defaults when empty)")
	return paramsCmd
}
