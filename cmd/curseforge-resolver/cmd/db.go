package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"go-curseforge-resolver/index"
	"go-curseforge-resolver/internal/database"
	"go-curseforge-resolver/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dbCmd represents the base command for history database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the resolution history database",
	Long:  `View, search or inspect entries recorded by previous resolve runs.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View entries stored in the database",
	Long:  `Lists every recorded file with its last resolution status.`,
	RunE:  runDbView,
}

var dbGetCmd = &cobra.Command{
	Use:   "get [KEY]",
	Short: "Print one database entry as JSON",
	Long:  `Prints the entry stored under KEY (f_<fileId> or i_<name>).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDbGet,
}

var dbSearchCmd = &cobra.Command{
	Use:   "search [NAME_QUERY]",
	Short: "Search database entries by name",
	Long: `Searches database entries whose file or mod name contains the provided
query text (case-insensitive).`,
	Args: cobra.ExactArgs(1),
	RunE: runDbSearch,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete [KEY]",
	Short: "Forget one database entry",
	Long:  `Removes the entry stored under KEY. Run 'db reindex' afterwards to drop it from search results.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDbDelete,
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the database",
	Long:  `Deletes the Bleve index and indexes every database entry again.`,
	RunE:  runDbReindex,
}

var dbStatusFilter string

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbGetCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbDeleteCmd)
	dbCmd.AddCommand(dbReindexCmd)

	dbViewCmd.Flags().StringVarP(&dbStatusFilter, "status", "s", "", "Only show entries with this status (Direct, Manual, Materialized, Failed)")
}

func openHistory() (*database.DB, error) {
	path := databasePath(globalConfig)
	if path == "" {
		return nil, errors.New("database path is not set: configure DatabasePath or PackRoot")
	}
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// collectRecords returns the stored records matching keep, ordered by key.
func collectRecords(db *database.DB, keep func(models.ResolutionRecord) bool) ([]keyedRecord, error) {
	var out []keyedRecord
	err := db.FoldRecords(func(key string, rec models.ResolutionRecord) error {
		if keep == nil || keep(rec) {
			out = append(out, keyedRecord{key: key, rec: rec})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, err
}

func printRecords(w io.Writer, records []keyedRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tMod\tStatus\tProject\tFile\tLocation\tResolved\tDB Key")
	fmt.Fprintln(tw, "----\t---\t------\t-------\t----\t--------\t--------\t------")
	for _, r := range records {
		location := r.rec.URL
		if r.rec.Path != "" {
			location = r.rec.Path
		}
		if r.rec.Status == models.StatusFailed {
			location = r.rec.ErrorDetails
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.rec.ItemID,
			r.rec.ModName,
			r.rec.Status,
			r.rec.ProjectID,
			r.rec.FileID,
			location,
			time.Unix(r.rec.Timestamp, 0).Format(time.DateTime),
			r.key,
		)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for db view")
	}
}

func runDbView(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	var keep func(models.ResolutionRecord) bool
	if dbStatusFilter != "" {
		keep = func(rec models.ResolutionRecord) bool { return strings.EqualFold(rec.Status, dbStatusFilter) }
	}
	records, err := collectRecords(db, keep)
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan (Fold)")
	}
	printRecords(cmd.OutOrStdout(), records)
	log.Infof("Displayed %d entries.", len(records))
	return nil
}

func runDbGet(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := db.GetRecord(args[0])
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("no entry stored under %s", args[0])
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDbSearch(cmd *cobra.Command, args []string) error {
	query := strings.ToLower(args[0])
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := collectRecords(db, func(rec models.ResolutionRecord) bool {
		return strings.Contains(strings.ToLower(rec.ItemID), query) ||
			strings.Contains(strings.ToLower(rec.ModName), query)
	})
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan (Fold)")
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No entries matching %q.\n", args[0])
		return nil
	}
	printRecords(cmd.OutOrStdout(), records)
	return nil
}

func runDbDelete(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete([]byte(args[0])); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no entry stored under %s", args[0])
		}
		return err
	}
	log.Infof("Deleted %s", args[0])
	return nil
}

func runDbReindex(cmd *cobra.Command, args []string) error {
	path := indexPath(globalConfig)
	if path == "" {
		return errors.New("cannot determine index path: PackRoot and BleveIndexPath are not set")
	}
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := collectRecords(db, nil)
	if err != nil {
		return fmt.Errorf("reading database: %w", err)
	}
	if err := index.DeleteIndex(path); err != nil {
		return fmt.Errorf("removing old index: %w", err)
	}
	idx, err := index.OpenOrCreateIndex(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	items := make([]index.Item, 0, len(records))
	for _, r := range records {
		items = append(items, index.ItemFromRecord(r.key, r.rec))
	}
	if err := index.IndexItems(idx, items); err != nil {
		return fmt.Errorf("indexing records: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d entries into %s\n", len(items), path)
	return nil
}
