package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
)

// newRefreshCmd triggers one synchronous MANUAL refresh, identical to
// the admin HTTP trigger but from the command line — useful for cron-
// external scheduling or a one-off forced refresh after a schema change.
func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <schema>.<name>",
		Short: "run one manual refresh of a stream table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, name, err := splitQualifiedName(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			st, err := d.streams.GetByName(ctx, schema, name)
			if err != nil {
				return err
			}

			res, err := d.engine.Refresh(ctx, st.PgsID, catalog.InitiatedManual)
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Println("NO_DATA: nothing to refresh")
				return nil
			}
			fmt.Printf("%s: %d rows inserted, %d rows deleted\n", res.Action, res.RowsInserted, res.RowsDeleted)
			return nil
		},
	}
}

func splitQualifiedName(qualified string) (schema, name string, err error) {
	parts := strings.SplitN(qualified, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <schema>.<name>, got %q", qualified)
	}
	return parts[0], parts[1], nil
}
