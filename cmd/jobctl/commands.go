package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/internal/config"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
	"github.com/spf13/cobra"
)

var (
	errNotInitialized = errors.New("database has no schema; run `jobctl migrate` first")
	errDirtySchema    = errors.New("database schema is dirty")
)

func defaultDBPath() string {
	if p := os.Getenv("JOBKEEPER_DB_PATH"); p != "" {
		return p
	}
	return config.Default().Store.Path
}

func newRootCmd() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:          "jobctl",
		Short:        "Inspect and maintain a jobkeeper job database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "path to the SQLite job database")

	root.AddCommand(
		newListCmd(&dbPath),
		newGetCmd(&dbPath),
		newPurgeCmd(&dbPath),
		newMigrateCmd(&dbPath),
	)
	return root
}

// openStore opens an existing, migrated database.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	version, dirty, err := store.SchemaVersion(path)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("%w: migration %d did not finish; repair it, then run `jobctl migrate --force %d`",
			errDirtySchema, version, version)
	}
	if version == 0 {
		return nil, errNotInitialized
	}
	return store.Open(ctx, path, store.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
}

func newListCmd(dbPath *string) *cobra.Command {
	var status, category, contentKey string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.JobFilter{
				Status:     models.JobStatus(status),
				Category:   models.Category(category),
				ContentKey: contentKey,
			}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid --status %q", status)
			}
			if filter.Category != "" && !filter.Category.Valid() {
				return fmt.Errorf("invalid --category %q", category)
			}

			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			views := make([]models.JobView, 0, len(list))
			for _, j := range list {
				views = append(views, j.View())
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return writeTable(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (queued, processing, completed, failed)")
	cmd.Flags().StringVar(&category, "category", "", "only jobs in this category (analyze, lrc)")
	cmd.Flags().StringVar(&contentKey, "content-key", "", "only jobs tagged with this content key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newGetCmd(dbPath *string) *cobra.Command {
	var asLrc bool

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asLrc {
				if job.Status != models.JobStatusCompleted || job.Result == nil || job.Result.Lrc == nil {
					return fmt.Errorf("job %s has no lrc result (category %s, status %s)", id, job.Category, job.Status)
				}
				_, err := io.WriteString(cmd.OutOrStdout(), job.Result.Lrc.Render())
				return err
			}
			return writeJSON(cmd.OutOrStdout(), job.View())
		},
	}

	cmd.Flags().BoolVar(&asLrc, "lrc", false, "print a completed lrc job's result as LRC text")
	return cmd
}

func newPurgeCmd(dbPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and failed jobs created before the cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PurgeOlderThan(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d job(s) older than %s\n", n, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", config.Default().Store.Retention, "age cutoff, e.g. 72h")
	return cmd
}

func newMigrateCmd(dbPath *string) *cobra.Command {
	var force int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if cmd.Flags().Changed("force") {
				if force < 1 {
					return fmt.Errorf("--force must be a positive version, got %d", force)
				}
				if err := store.ForceVersion(*dbPath, force); err != nil {
					return err
				}
			}
			if err := st.Initialize(cmd.Context()); err != nil {
				return err
			}
			version, dirty, err := store.SchemaVersion(*dbPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&force, "force", 0, "mark this version as cleanly applied before migrating")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, views []models.JobView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tSTATUS\tPROGRESS\tSTAGE\tCREATED")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			v.ID, v.Category, v.Status, v.Progress*100, v.Stage, v.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
