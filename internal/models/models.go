package models

import (
	"fmt"
	"strings"
)

type (
	Config struct {
		// Connection/Auth
		ApiKey              string `toml:"ApiKey"`
		ApiBaseUrl          string `toml:"ApiBaseUrl"`
		UserAgent           string `toml:"UserAgent"`
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`

		// Paths
		PackRoot       string `toml:"PackRoot"`
		ManifestPath   string `toml:"ManifestPath"`
		DownloadsPath  string `toml:"DownloadsPath"` // Empty means the platform Downloads folder
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Manual download behaviour
		InstanceSubdirs []string `toml:"InstanceSubdirs"`
		WaitTimeoutSec  int      `toml:"WaitTimeoutSec"` // 0 waits until done or interrupted
		DisableBrowser  bool     `toml:"DisableBrowser"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Locator is the CurseForge reference of a pack file.
	Locator struct {
		FileID    int `json:"fileId"`
		ProjectID int `json:"projectId"`
	}

	// RequestedItem is a pack file that needs a download location.
	// A nil Locator means the file has no CurseForge reference.
	RequestedItem struct {
		ID      string   `json:"id"`
		Dest    string   `json:"dest"` // Relative to the pack root
		Locator *Locator `json:"locator,omitempty"`
	}

	// Api Calls and Responses
	GetFilesRequest struct {
		FileIDs []int `json:"fileIds"`
	}

	GetModsRequest struct {
		ModIDs []int `json:"modIds"`
	}

	GetFilesResponse struct {
		Data []FileRecord `json:"data"`
	}

	GetModsResponse struct {
		Data []ModRecord `json:"data"`
	}

	FileRecord struct {
		ID          int     `json:"id"`
		ModID       int     `json:"modId"`
		DownloadURL *string `json:"downloadUrl"` // nil when the author disallows third-party downloads
	}

	ModRecord struct {
		ID    int       `json:"id"`
		Name  string    `json:"name"`
		Links *ModLinks `json:"links"`
	}

	ModLinks struct {
		WebsiteURL string `json:"websiteUrl"`
	}

	// Internal history entry for each resolved file
	ResolutionRecord struct {
		ItemID       string `json:"itemId"`
		FileID       int    `json:"fileId,omitempty"`
		ProjectID    int    `json:"projectId,omitempty"`
		ModName      string `json:"modName,omitempty"`
		Status       string `json:"status"`
		URL          string `json:"url,omitempty"`
		Path         string `json:"path,omitempty"`
		Blake3       string `json:"blake3,omitempty"`
		Timestamp    int64  `json:"timestamp"`
		ErrorDetails string `json:"errorDetails,omitempty"`
	}
)

// Resolution Status Constants
const (
	StatusDirect       = "Direct"
	StatusManual       = "Manual"
	StatusMaterialized = "Materialized"
	StatusFailed       = "Failed"
)

// WebsiteURL returns the project page, or "" when the catalog sent no links.
func (m ModRecord) WebsiteURL() string {
	if m.Links == nil {
		return ""
	}
	return strings.TrimSuffix(m.Links.WebsiteURL, "/")
}

// Failure is one accumulated resolution problem. Kind is a sentinel error
// identifying the failure class, Cause the underlying error if any.
type Failure struct {
	Subject string
	Message string
	Kind    error
	Cause   error
}

func (f Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Subject, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Subject, f.Message)
}

// Unwrap lets errors.Is match both the failure class and the cause.
func (f Failure) Unwrap() []error {
	var errs []error
	if f.Kind != nil {
		errs = append(errs, f.Kind)
	}
	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}
	return errs
}

// RecordKey is the history DB key for an item. Items sharing a file id
// keep separate records.
func RecordKey(item RequestedItem) string {
	if item.Locator != nil {
		return fmt.Sprintf("f_%d_%s", item.Locator.FileID, item.ID)
	}
	return "i_" + item.ID
}
