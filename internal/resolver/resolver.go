// Package resolver turns CurseForge file references into direct download
// URLs, and collects the files the catalog will not serve so they can be
// fetched by hand.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go-curseforge-resolver/internal/api"
	"go-curseforge-resolver/internal/models"

	log "github.com/sirupsen/logrus"
)

// Failure kinds produced while resolving.
var (
	ErrMissingLocator     = errors.New("no curseforge locator")
	ErrUnexpectedID       = errors.New("unexpected id in catalog response")
	ErrInvalidDownloadURL = errors.New("invalid download url")
	ErrProjectNotFound    = errors.New("project missing from catalog response")
	ErrNoDownloadPage     = errors.New("project has no usable download page")
)

// otherSubject is the failure subject used for whole-batch problems.
const otherSubject = "Other"

// Catalog is the subset of the CurseForge API the engine needs.
type Catalog interface {
	FetchFileMetadata(ctx context.Context, fileIDs []int) ([]models.FileRecord, error)
	FetchModMetadata(ctx context.Context, projectIDs []int) ([]models.ModRecord, error)
}

// DirectDownload is an item the catalog serves programmatically.
type DirectDownload struct {
	Item models.RequestedItem
	URL  *url.URL
}

// ManualDownload is an item that has to be fetched through a browser.
type ManualDownload struct {
	Item       models.RequestedItem
	FileID     int
	ProjectID  int
	ModName    string
	WebsiteURL string
}

// DownloadPageURL is the per-file page the operator downloads from.
func (m ManualDownload) DownloadPageURL() string {
	return fmt.Sprintf("%s/download/%d", m.WebsiteURL, m.FileID)
}

// Resolution is the outcome of a pass, in request order.
type Resolution struct {
	Direct []DirectDownload
	Manual []ManualDownload
}

// Engine resolves requested items against a Catalog.
type Engine struct {
	catalog Catalog
}

// NewEngine creates an Engine.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// tracked is a requested item plus its resolution state within one pass.
type tracked struct {
	item     models.RequestedItem
	resolved *url.URL
}

// pendingFile is one file waiting for a manual download.
type pendingFile struct {
	entry  *tracked
	fileID int
}

// Resolve runs both lookup phases. Per-item problems are accumulated in the
// returned failures. A catalog call that fails with a status error ends the
// pass early with a single failure; a malformed response or a cancelled
// context is returned as err.
func (e *Engine) Resolve(ctx context.Context, items []models.RequestedItem) (*Resolution, []models.Failure, error) {
	var failures []models.Failure
	result := &Resolution{}

	// Phase 0: items without a locator never reach the catalog.
	var entries []*tracked
	byFileID := make(map[int][]*tracked)
	var fileIDs []int
	for _, item := range items {
		if item.Locator == nil {
			failures = append(failures, models.Failure{
				Subject: item.ID,
				Message: "Failed to resolve CurseForge metadata: no CurseForge locator",
				Kind:    ErrMissingLocator,
			})
			continue
		}
		t := &tracked{item: item}
		entries = append(entries, t)
		if _, seen := byFileID[item.Locator.FileID]; !seen {
			fileIDs = append(fileIDs, item.Locator.FileID)
		}
		byFileID[item.Locator.FileID] = append(byFileID[item.Locator.FileID], t)
	}
	if len(entries) == 0 {
		return result, failures, nil
	}

	// Phase 1: file lookup.
	files, err := e.catalog.FetchFileMetadata(ctx, fileIDs)
	if err != nil {
		stop, hard := batchFailure(err, "file data")
		if hard != nil {
			return nil, failures, hard
		}
		return result, append(failures, stop), nil
	}

	for _, file := range files {
		matched, ok := byFileID[file.ID]
		if !ok {
			failures = append(failures, models.Failure{
				Subject: strconv.Itoa(file.ID),
				Message: fmt.Sprintf("Failed to find file from result: ID %d, Project ID %d", file.ID, file.ModID),
				Kind:    ErrUnexpectedID,
			})
			continue
		}
		if file.DownloadURL == nil {
			log.WithField("fileId", file.ID).Debug("File has no download URL, needs a manual download")
			continue
		}
		u, parseErr := parseDownloadURL(*file.DownloadURL)
		if parseErr != nil {
			failures = append(failures, models.Failure{
				Subject: strconv.Itoa(file.ID),
				Message: fmt.Sprintf("Failed to parse URL: %s for ID %d, Project ID %d", *file.DownloadURL, file.ID, file.ModID),
				Kind:    ErrInvalidDownloadURL,
				Cause:   parseErr,
			})
			continue
		}
		for _, t := range matched {
			t.resolved = u
		}
	}

	// Sweep: anything unresolved, including files the catalog omitted entirely
	// (some content types never show up in the API), needs a manual download.
	pending := make(map[int][]pendingFile)
	var projectIDs []int
	for _, t := range entries {
		if t.resolved != nil {
			result.Direct = append(result.Direct, DirectDownload{Item: t.item, URL: t.resolved})
			continue
		}
		projectID := t.item.Locator.ProjectID
		if _, seen := pending[projectID]; !seen {
			projectIDs = append(projectIDs, projectID)
		}
		pending[projectID] = append(pending[projectID], pendingFile{entry: t, fileID: t.item.Locator.FileID})
	}
	log.Debugf("Phase 1 resolved %d item(s) directly, %d project(s) pending manual download", len(result.Direct), len(projectIDs))

	if len(pending) == 0 {
		return result, failures, nil
	}

	// Phase 2: project lookup, only for the manual set.
	mods, err := e.catalog.FetchModMetadata(ctx, projectIDs)
	if err != nil {
		stop, hard := batchFailure(err, "mod data")
		if hard != nil {
			return nil, failures, hard
		}
		return result, append(failures, stop), nil
	}

	found := make(map[int]models.ModRecord, len(mods))
	for _, mod := range mods {
		if _, ok := pending[mod.ID]; !ok {
			failures = append(failures, models.Failure{
				Subject: mod.Name,
				Message: fmt.Sprintf("Failed to find project from result: ID %d", mod.ID),
				Kind:    ErrUnexpectedID,
			})
			continue
		}
		found[mod.ID] = mod
	}

	for _, projectID := range projectIDs {
		mod, ok := found[projectID]
		for _, pf := range pending[projectID] {
			if !ok {
				failures = append(failures, models.Failure{
					Subject: pf.entry.item.ID,
					Message: fmt.Sprintf("Failed to find project in result: ID %d", projectID),
					Kind:    ErrProjectNotFound,
				})
				continue
			}
			if _, pageErr := parseDownloadURL(mod.WebsiteURL()); pageErr != nil {
				failures = append(failures, models.Failure{
					Subject: pf.entry.item.ID,
					Message: fmt.Sprintf("Failed to find download page for project ID %d: %q", projectID, mod.WebsiteURL()),
					Kind:    ErrNoDownloadPage,
					Cause:   pageErr,
				})
				continue
			}
			result.Manual = append(result.Manual, ManualDownload{
				Item:       pf.entry.item,
				FileID:     pf.fileID,
				ProjectID:  projectID,
				ModName:    mod.Name,
				WebsiteURL: mod.WebsiteURL(),
			})
		}
	}

	return result, failures, nil
}

// batchFailure splits a catalog error into either an accumulated failure
// (status problems) or a hard error (everything else).
func batchFailure(err error, what string) (models.Failure, error) {
	if errors.Is(err, api.ErrRemoteUnavailable) {
		var code int
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			code = statusErr.StatusCode
		}
		return models.Failure{
			Subject: otherSubject,
			Message: fmt.Sprintf("Failed to resolve CurseForge metadata for %s: error code %d", what, code),
			Kind:    api.ErrRemoteUnavailable,
			Cause:   err,
		}, nil
	}
	return models.Failure{}, fmt.Errorf("resolving CurseForge metadata for %s: %w", what, err)
}

// parseDownloadURL accepts absolute http(s) URLs only.
func parseDownloadURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}
