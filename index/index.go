package index

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go-curseforge-resolver/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "resolver.bleve"

// Item is the indexed form of a resolution record. Fields are searchable
// by their JSON names, e.g. '+status:Manual' or '+modName:fancy'.
type Item struct {
	ID           string    `json:"id"`   // Same key as the history DB (f_<fileId>_<itemId> or i_<itemId>)
	Type         string    `json:"type"` // Always "mod_file"
	Name         string    `json:"name"` // Manifest entry name
	ModName      string    `json:"modName,omitempty"`
	Status       string    `json:"status"`
	URL          string    `json:"url,omitempty"`
	Path         string    `json:"path,omitempty"`
	ProjectID    int       `json:"projectId,omitempty"`
	FileID       int       `json:"fileId,omitempty"`
	Blake3       string    `json:"blake3,omitempty"`
	ErrorDetails string    `json:"errorDetails,omitempty"`
	ResolvedAt   time.Time `json:"resolvedAt"`
}

// ItemFromRecord builds the index entry for a record stored under key.
func ItemFromRecord(key string, rec models.ResolutionRecord) Item {
	return Item{
		ID:           key,
		Type:         "mod_file",
		Name:         rec.ItemID,
		ModName:      rec.ModName,
		Status:       rec.Status,
		URL:          rec.URL,
		Path:         rec.Path,
		ProjectID:    rec.ProjectID,
		FileID:       rec.FileID,
		Blake3:       rec.Blake3,
		ErrorDetails: rec.ErrorDetails,
		ResolvedAt:   time.Unix(rec.Timestamp, 0).UTC(),
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index at %s: %w", indexPath, err)
		}
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", indexPath, err)
	}
	log.Debugf("Opened existing index at: %s", indexPath)
	return index, nil
}

// IndexItems adds or updates items in a single batch.
func IndexItems(index bleve.Index, items []Item) error {
	batch := index.NewBatch()
	for _, item := range items {
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("batching %s: %w", item.ID, err)
		}
	}
	return index.Batch(batch)
}

// SearchIndex runs a query-string search and returns up to limit hits
// with all stored fields.
func SearchIndex(index bleve.Index, query string, limit int) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	if limit > 0 {
		searchRequest.Size = limit
	}
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
