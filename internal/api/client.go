package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go-curseforge-resolver/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRemoteUnavailable = errors.New("catalog request failed")
	ErrMalformedResponse = errors.New("malformed catalog response")
	ErrUnauthorized      = errors.New("catalog request unauthorized (check API key)")
)

var errEmptyBody = errors.New("empty response body")

const (
	filesEndpoint = "/v1/mods/files"
	modsEndpoint  = "/v1/mods"
)

// StatusError describes a batch call that did not produce a usable body.
// StatusCode is 0 when the request never got a response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("request to %s failed: error code %d", e.Endpoint, e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() []error {
	errs := []error{ErrRemoteUnavailable}
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		errs = append(errs, ErrUnauthorized)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Client struct for interacting with the CurseForge API
type Client struct {
	apiKey     string
	baseURL    string
	userAgent  string
	HttpClient *http.Client // Shared across both batch calls
}

// NewClient creates a new API client. The access key comes from cfg rather
// than being baked into the binary.
func NewClient(httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := time.Duration(cfg.ApiClientTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:     cfg.ApiKey,
		baseURL:    strings.TrimSuffix(cfg.ApiBaseUrl, "/"),
		userAgent:  cfg.UserAgent,
		HttpClient: httpClient,
	}
}

// FetchFileMetadata looks up a batch of files by id.
func (c *Client) FetchFileMetadata(ctx context.Context, fileIDs []int) ([]models.FileRecord, error) {
	var response models.GetFilesResponse
	if err := c.post(ctx, filesEndpoint, models.GetFilesRequest{FileIDs: uniqueSorted(fileIDs)}, &response); err != nil {
		return nil, err
	}
	log.Debugf("Catalog returned %d file record(s) for %d requested id(s)", len(response.Data), len(fileIDs))
	return response.Data, nil
}

// FetchModMetadata looks up a batch of projects by id.
func (c *Client) FetchModMetadata(ctx context.Context, projectIDs []int) ([]models.ModRecord, error) {
	var response models.GetModsResponse
	if err := c.post(ctx, modsEndpoint, models.GetModsRequest{ModIDs: uniqueSorted(projectIDs)}, &response); err != nil {
		return nil, err
	}
	log.Debugf("Catalog returned %d mod record(s) for %d requested id(s)", len(response.Data), len(projectIDs))
	return response.Data, nil
}

// post sends one batch request and decodes the JSON reply into out.
// There are no retries: a failed batch fails the whole pass.
func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.WithError(err).Errorf("HTTP request to %s failed", endpoint)
		return &StatusError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errEmptyBody}
	}

	if err := json.Unmarshal(data, out); err != nil {
		log.WithError(err).Errorf("Error unmarshalling response JSON from %s", endpoint)
		log.Debugf("Response body causing unmarshal error: %s", string(data))
		return fmt.Errorf("%w from %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func uniqueSorted(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
