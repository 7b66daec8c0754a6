package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func canonicalType(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func newEntityTypesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "entity-types",
		Short: "List the entity types that can be detected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := types.EntityTypes()
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newLanguagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the supported input languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			langs := recognizer.Languages()
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), langs)
			}
			for _, l := range langs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", l.Code, l.Name)
			}
			return nil
		},
	}
}
