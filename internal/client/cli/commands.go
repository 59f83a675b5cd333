package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/estisync/internal/client/engine"
	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/common"
)

func newBootstrapCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Replace local data with the remote rows of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				rep, err := a.sync.Bootstrap(ctx, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "bootstrapped %s: %d rows, %d photos downloaded\n",
					user, rep.MergedTotal(), rep.Photos.Downloaded)
				if rep.PhotosSkipped {
					fmt.Fprintln(cmd.OutOrStdout(), "photo downloads skipped: no session")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "id of the signed-in user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle: push, pull, reconcile photos",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				rep, err := a.sync.RunSyncCycle(ctx)
				if rep == nil {
					return err
				}
				printReport(cmd.OutOrStdout(), rep)
				if err != nil {
					return err
				}
				return rep.Err()
			})
		},
	}
}

func newPhotosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "photos",
		Short: "Download missing photos and remove stale cached files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				st, err := a.sync.SyncPhotos(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "photos: %d downloaded, %d removed, %d collected, %d failed\n",
					st.Downloaded, st.Removed, st.Collected, st.Failed)
				return err
			})
		},
	}
}

func newSaveCmd() *cobra.Command {
	var table, payload string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Write a row locally and queue it for push",
		RunE: func(cmd *cobra.Command, _ []string) error {
			row, err := decodeRow(payload)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *App) error {
				saved, err := a.mutations.Save(ctx, table, row)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), saved)
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table name")
	cmd.Flags().StringVar(&payload, "payload", "{}", "row as a JSON object")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var table, id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a row and its dependent rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				n, err := a.mutations.Delete(ctx, table, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table name")
	cmd.Flags().StringVar(&id, "id", "", "row id")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var table, op, payload string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Append a raw change to the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			operation, err := models.ParseOperation(op)
			if err != nil {
				return err
			}
			row, err := decodeRow(payload)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *App) error {
				seq, err := a.mutations.EnqueueChange(ctx, table, operation, row)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued #%d\n", seq)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table name")
	cmd.Flags().StringVar(&op, "op", "", "insert, update or delete")
	cmd.Flags().StringVar(&payload, "payload", "", "row as a JSON object")
	for _, f := range []string{"table", "op", "payload"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newListCmd() *cobra.Command {
	var table string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the rows of a table as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				repo := a.store.Rows(a.store.DB())
				var rows []models.Row
				var err error
				if all {
					rows, err = repo.ListAll(ctx, table)
				} else {
					rows, err = repo.ListActive(ctx, table)
				}
				if err != nil {
					return err
				}
				for _, r := range rows {
					if err := writeJSON(cmd.OutOrStdout(), r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table name")
	cmd.Flags().BoolVar(&all, "all", false, "include tombstones")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user, pending changes and row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				return printStatus(ctx, cmd.OutOrStdout(), a)
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Wipe local rows, queue, metadata and cached photos",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.sync.ClearLocalData(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "local data cleared")
				return nil
			})
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, a *App) error {
	user, err := a.engine.CurrentUser(ctx)
	switch {
	case errors.Is(err, common.ErrNotBootstrapped):
		fmt.Fprintln(w, "user: (not bootstrapped)")
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "user: %s\n", user)
	}

	last, err := a.store.Metadata(a.store.DB()).Get(ctx, metadata.KeyLastSyncAt)
	switch {
	case errors.Is(err, common.ErrNotFound):
		last = "never"
	case err != nil:
		return err
	}
	fmt.Fprintf(w, "last sync: %s\n", last)

	pending, err := a.sync.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "pending changes: %d\n", pending)

	repo := a.store.Rows(a.store.DB())
	for _, t := range models.Tables {
		n, err := repo.Count(ctx, t.Name, false)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d\n", t.Name, n)
	}
	return nil
}

func printReport(w io.Writer, rep *engine.Report) {
	fmt.Fprintf(w, "pushed %d, conflicts %d, rejected %d, dropped %d\n",
		rep.Pushed, rep.Conflicts, rep.Rejected, rep.Dropped)
	if rep.PushAborted {
		fmt.Fprintln(w, "push aborted: remote unavailable")
	}

	tables := make([]string, 0, len(rep.Pulled))
	for t := range rep.Pulled {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(w, "pulled %s: %d fetched, %d merged\n", t, rep.Pulled[t], rep.Merged[t])
	}

	fmt.Fprintf(w, "photos: %d downloaded, %d removed, %d failed\n",
		rep.Photos.Downloaded, rep.Photos.Removed, rep.Photos.Failed)
	for _, err := range rep.Errors {
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

func decodeRow(payload string) (models.Row, error) {
	var r models.Row
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return models.Row{}, fmt.Errorf("invalid payload: %w", err)
	}
	return r, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
