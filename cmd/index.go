package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitescout/internal/app"
	"github.com/JakeFAU/sitescout/internal/fulltext"
	"github.com/JakeFAU/sitescout/internal/resource"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and maintain the full-text index.",
	}
	cmd.AddCommand(newIndexStatsCmd(), newIndexRebuildCmd(), newIndexSearchCmd())
	return cmd
}

func indexOf(cmd *cobra.Command) (*app.App, *fulltext.Index, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	idx := appInstance.Index()
	if idx == nil {
		return nil, nil, errors.New("full-text index is disabled (fulltext.enabled=false)")
	}
	return appInstance, idx, nil
}

func newIndexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, idx, err := indexOf(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), idx.IndexStats())
		},
	}
}

func newIndexRebuildCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "rebuild [resource]",
		Short: "Rebuild the index for one resource, or for all of them.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, idx, err := indexOf(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if idx.Excluded(args[0]) {
					return fmt.Errorf("resource %q is excluded from indexing", args[0])
				}
				if err := idx.RebuildIndex(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("rebuild %s: %w", args[0], err)
				}
				return writeJSON(cmd.OutOrStdout(), idx.IndexStats().Resources[args[0]])
			}
			if timeout <= 0 {
				timeout = appInstance.Config().FullText.RebuildTimeout
			}
			if err := idx.RebuildAllIndexes(cmd.Context(), timeout); err != nil {
				return fmt.Errorf("rebuild all: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), idx.IndexStats())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall rebuild deadline (0 uses fulltext.rebuild_timeout)")
	return cmd
}

func newIndexSearchCmd() *cobra.Command {
	var (
		fields  []string
		limit   int
		offset  int
		exact   bool
		records bool
	)
	cmd := &cobra.Command{
		Use:   "search <resource> <query>",
		Short: "Search one indexed resource.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, err := indexOf(cmd)
			if err != nil {
				return err
			}
			opts := fulltext.SearchOptions{Fields: fields, Limit: limit, Offset: offset, ExactMatch: exact}
			if records {
				found, err := idx.SearchRecords(cmd.Context(), args[0], args[1], opts)
				if err != nil {
					return err
				}
				if found == nil {
					found = []resource.Record{}
				}
				return writeJSON(cmd.OutOrStdout(), found)
			}
			hits, err := idx.Search(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			if hits == nil {
				hits = []fulltext.Hit{}
			}
			return writeJSON(cmd.OutOrStdout(), hits)
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "restrict matches to these fields")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum hits (0 uses fulltext.max_results)")
	cmd.Flags().IntVar(&offset, "offset", 0, "hits to skip")
	cmd.Flags().BoolVar(&exact, "exact", false, "match whole words only")
	cmd.Flags().BoolVar(&records, "records", false, "print the matching records instead of hits")
	return cmd
}
