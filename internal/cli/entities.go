package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/anonymizer/pkg/store"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func newEntitiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect, export and import the entity store",
	}
	cmd.AddCommand(newEntitiesListCmd(a), newEntitiesExportCmd(a), newEntitiesImportCmd(a))
	return cmd
}

func newEntitiesListCmd(a *app) *cobra.Command {
	var entityType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := types.EntityFilter{Limit: limit}
			if entityType != "" {
				filter.EntityType = canonicalType(entityType)
				if !types.IsEntityType(filter.EntityType) {
					return userError(fmt.Errorf("unknown entity type %q", entityType))
				}
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Detach()

			recs, err := s.List(cmd.Context(), filter)
			if err != nil {
				return sysError(err)
			}
			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				if recs == nil {
					recs = []*types.EntityRecord{}
				}
				return writeJSON(out, recs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tSLUG\tORIGINAL\tLAST SEEN")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.EntityType, r.SlugName, r.OriginalName, r.LastSeen.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "only this entity type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records (0 means all)")
	return cmd
}

func newEntitiesExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every entity to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Detach()

			n, err := store.Export(cmd.Context(), s, args[0])
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"file": args[0], "exported": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d entities to %s\n", n, args[0])
			return nil
		},
	}
}

func newEntitiesImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore entities from a JSONL file, keeping existing records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Detach()

			res, err := store.Import(cmd.Context(), s, args[0])
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, kept %d existing, skipped %d malformed\n",
				res.Inserted, res.Existing, res.Malformed)
			return nil
		},
	}
}
