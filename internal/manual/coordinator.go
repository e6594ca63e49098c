// Package manual reconciles files the catalog will not serve directly: it
// opens their download pages, watches the user's Downloads directory and
// moves arriving files into the instance.
package manual

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-curseforge-resolver/internal/config"
	"go-curseforge-resolver/internal/helpers"
	"go-curseforge-resolver/internal/models"
	"go-curseforge-resolver/internal/resolver"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Failure kinds produced while reconciling.
var (
	ErrRelocation       = errors.New("relocating manual download")
	ErrWatchInvalidated = errors.New("downloads directory watch invalidated")
	ErrWaitAborted      = errors.New("stopped waiting for manual download")
)

// DestinationResolver maps a pack-relative destination to an absolute path.
type DestinationResolver interface {
	Resolve(dest string) (string, error)
}

// Options configures a Coordinator. Destinations is required.
type Options struct {
	DownloadsDir    string // Empty means the platform Downloads folder
	Destinations    DestinationResolver
	Opener          Opener
	InstanceSubdirs []string
	WaitTimeout     time.Duration // 0 waits until done or cancelled
	Observer        func(Progress)
}

// Progress is reported after every relocation.
type Progress struct {
	Moved int
	Total int
	Last  string
}

// Moved is a manual download that reached its destination.
type Moved struct {
	Download resolver.ManualDownload
	Path     string
}

// Report is the outcome of a reconciliation.
type Report struct {
	Moved       []Moved
	Outstanding []resolver.ManualDownload
}

// Coordinator runs the manual download workflow.
type Coordinator struct {
	opts Options
}

// NewCoordinator creates a Coordinator, filling in default options.
func NewCoordinator(opts Options) *Coordinator {
	if opts.DownloadsDir == "" {
		opts.DownloadsDir = DefaultDownloadsDir()
	}
	if opts.Opener == nil {
		opts.Opener = BrowserOpener{}
	}
	if opts.InstanceSubdirs == nil {
		opts.InstanceSubdirs = config.DefaultInstanceSubdirs
	}
	return &Coordinator{opts: opts}
}

// DefaultDownloadsDir is the user's Downloads folder.
func DefaultDownloadsDir() string {
	return xdg.UserDirs.Download
}

// NormalizeDownloadName maps a file name to the name the catalog gives
// browser downloads.
func NormalizeDownloadName(name string) string {
	return strings.ReplaceAll(name, " ", "+")
}

type entry struct {
	download resolver.ManualDownload
	dest     string
	expected string
	done     bool
}

// session holds the pending set of one Reconcile call. It is only touched
// from the calling goroutine.
type session struct {
	dir      string
	entries  []*entry
	moved    int
	report   *Report
	observer func(Progress)
}

// Reconcile materializes the given downloads. Files already in the
// downloads directory are moved straight away; for the rest the download
// page is opened and the directory is watched until every file arrived,
// the watch breaks, ctx is done or the wait timeout expires. Entries that
// never arrive are returned as failures and listed in Report.Outstanding.
func (c *Coordinator) Reconcile(ctx context.Context, downloads []resolver.ManualDownload) (*Report, []models.Failure, error) {
	report := &Report{}
	if len(downloads) == 0 {
		return report, nil, nil
	}
	if c.opts.Destinations == nil {
		return nil, nil, errors.New("manual: no destination resolver configured")
	}

	var failures []models.Failure
	s := &session{dir: filepath.Clean(c.opts.DownloadsDir), report: report, observer: c.opts.Observer}
	for _, d := range downloads {
		dest, err := c.opts.Destinations.Resolve(d.Item.Dest)
		if err != nil {
			failures = append(failures, models.Failure{
				Subject: d.Item.ID,
				Message: fmt.Sprintf("Failed to resolve destination %s", d.Item.Dest),
				Kind:    ErrRelocation,
				Cause:   err,
			})
			continue
		}
		s.entries = append(s.entries, &entry{
			download: d,
			dest:     dest,
			expected: NormalizeDownloadName(filepath.Base(dest)),
		})
	}
	if len(s.entries) == 0 {
		return report, failures, nil
	}

	instanceDir := filepath.Dir(filepath.Dir(s.entries[0].dest))
	for _, sub := range c.opts.InstanceSubdirs {
		if err := os.MkdirAll(filepath.Join(instanceDir, sub), 0755); err != nil {
			return nil, failures, fmt.Errorf("creating instance directory %s: %w", sub, err)
		}
	}

	if !helpers.CheckAndMakeDir(s.dir) {
		return nil, failures, fmt.Errorf("downloads directory %s is not usable", s.dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, failures, fmt.Errorf("creating downloads watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return nil, failures, fmt.Errorf("watching %s: %w", s.dir, err)
	}

	log.Info("Opening mods to manually download...")
	for _, e := range s.entries {
		if path, ok := s.existing(e); ok {
			s.relocate(e, path)
			continue
		}
		page := e.download.DownloadPageURL()
		if err := c.opts.Opener.Open(page); err != nil {
			log.WithError(err).Warnf("Could not open %s, download %s from it by hand", page, e.expected)
		}
	}

	failures = append(failures, s.wait(ctx, watcher, c.opts.WaitTimeout)...)

	for _, e := range s.entries {
		if !e.done {
			report.Outstanding = append(report.Outstanding, e.download)
		}
	}
	return report, failures, nil
}

func (s *session) pending() int {
	return len(s.entries) - s.moved
}

func (s *session) wait(ctx context.Context, watcher *fsnotify.Watcher, timeout time.Duration) []models.Failure {
	if s.pending() == 0 {
		return nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	log.Infof("Watching %s for %d manual download(s)...", s.dir, s.pending())
	for s.pending() > 0 {
		select {
		case <-ctx.Done():
			return s.abandon(ErrWaitAborted, ctx.Err())
		case <-deadline:
			return s.abandon(ErrWaitAborted, fmt.Errorf("nothing arrived within %s", timeout))
		case event, ok := <-watcher.Events:
			if !ok {
				return s.abandon(ErrWatchInvalidated, errors.New("watcher closed"))
			}
			if filepath.Clean(event.Name) == s.dir && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return s.abandon(ErrWatchInvalidated, fmt.Errorf("%s: %s", s.dir, event.Op))
			}
			if event.Has(fsnotify.Create) {
				s.arrived(filepath.Base(event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return s.abandon(ErrWatchInvalidated, errors.New("watcher closed"))
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("Downloads watcher dropped events, rescanning")
				s.rescan()
				continue
			}
			log.WithError(err).Warn("Downloads watcher error")
		}
	}
	return nil
}

// arrived handles a file created in the downloads directory.
func (s *session) arrived(name string) {
	normalized := NormalizeDownloadName(name)
	for _, e := range s.entries {
		if e.done || e.expected != normalized {
			continue
		}
		path := filepath.Join(s.dir, name)
		if !complete(path) {
			// Browsers may create an empty placeholder before renaming the finished file over it.
			log.WithField("file", name).Debug("Skipping empty or unreadable download")
			return
		}
		s.relocate(e, path)
		return
	}
	log.WithField("file", name).Debug("Ignoring unrelated download")
}

func (s *session) rescan() {
	for _, e := range s.entries {
		if e.done {
			continue
		}
		if path, ok := s.existing(e); ok {
			s.relocate(e, path)
		}
	}
}

// existing returns the path of an already downloaded copy of e, checking
// the catalog's name first and then the destination's own name.
func (s *session) existing(e *entry) (string, bool) {
	candidates := []string{e.expected}
	if raw := filepath.Base(e.dest); raw != e.expected {
		candidates = append(candidates, raw)
	}
	for _, name := range candidates {
		path := filepath.Join(s.dir, name)
		if complete(path) {
			return path, true
		}
	}
	return "", false
}

// complete reports whether path is a regular file with content.
func complete(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// relocate moves src to e's destination. Failures are logged and leave e pending.
func (s *session) relocate(e *entry, src string) {
	if _, err := helpers.MoveFile(src, e.dest); err != nil {
		log.WithError(fmt.Errorf("%w: %w", ErrRelocation, err)).
			WithField("item", e.download.Item.ID).
			Warn("Failed to move manual download")
		return
	}
	e.done = true
	s.moved++
	s.report.Moved = append(s.report.Moved, Moved{Download: e.download, Path: e.dest})
	log.WithFields(log.Fields{"item": e.download.Item.ID, "path": e.dest}).Info("Moved manual download")
	if s.observer != nil {
		s.observer(Progress{Moved: s.moved, Total: len(s.entries), Last: e.download.Item.ID})
	}
}

// abandon turns every outstanding entry into a failure of the given kind.
func (s *session) abandon(kind, cause error) []models.Failure {
	var failures []models.Failure
	for _, e := range s.entries {
		if e.done {
			continue
		}
		failures = append(failures, models.Failure{
			Subject: e.download.Item.ID,
			Message: fmt.Sprintf("Manual download %s never arrived (%s)", e.expected, e.download.DownloadPageURL()),
			Kind:    kind,
			Cause:   cause,
		})
	}
	log.Warnf("Stopped waiting with %d manual download(s) outstanding", len(failures))
	return failures
}
