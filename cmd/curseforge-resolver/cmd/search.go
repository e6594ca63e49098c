package cmd

import (
	"errors"
	"fmt"
	"sort"

	"go-curseforge-resolver/index"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the Bleve index of resolved files",
	Long: `Performs a search against the Bleve index written by 'resolve'. The index
lives at '[PackRoot]/.resolver/resolver.bleve' unless 'BleveIndexPath' is set.

Supports Bleve's query string syntax over these fields:
  - id (string): DB key (f_<fileId> or i_<name>)
  - name (string): Manifest entry name
  - modName (string): CurseForge project name
  - status (string): Direct, Manual, Materialized or Failed
  - url (string): Direct URL or download page
  - path (string): Where a manual download was moved to
  - projectId, fileId (numeric)
  - resolvedAt (time)

Examples:
  curseforge-resolver search -q "+status:Manual"
  curseforge-resolver search -q "+modName:jei"`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Search query (uses Bleve query string syntax)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of hits")
	_ = searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	path := indexPath(globalConfig)
	if path == "" {
		return errors.New("cannot determine index path: PackRoot and BleveIndexPath are not set")
	}

	// Open rather than create: searching should not leave an empty index behind.
	bleveIndex, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return fmt.Errorf("no index at %s, run resolve first", path)
	}
	if err != nil {
		return fmt.Errorf("failed to open Bleve index at %s: %w", path, err)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.WithError(err).Error("Error closing Bleve index")
		}
	}()

	results, err := index.SearchIndex(bleveIndex, searchQuery, searchLimit)
	if err != nil {
		return fmt.Errorf("error performing search: %w", err)
	}
	log.Debugf("Search finished. Hits: %d, Total: %d, Took: %s", len(results.Hits), results.Total, results.Took)

	out := cmd.OutOrStdout()
	if results.Total == 0 {
		fmt.Fprintln(out, "No results found matching your query.")
		return nil
	}
	for i, hit := range results.Hits {
		fmt.Fprintf(out, "[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		fields := make([]string, 0, len(hit.Fields))
		for field := range hit.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(out, "  %s: %v\n", field, hit.Fields[field])
		}
		fmt.Fprintln(out, "---")
	}
	return nil
}
