package manual

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-curseforge-resolver/internal/models"
	"go-curseforge-resolver/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rootResolver joins destinations onto a fixed directory.
type rootResolver struct {
	root string
	fail map[string]error
}

func (r rootResolver) Resolve(dest string) (string, error) {
	if err, ok := r.fail[dest]; ok {
		return "", err
	}
	return filepath.Join(r.root, filepath.FromSlash(dest)), nil
}

// fakeOpener records opened pages and runs an optional hook, which lets a
// test act after the watch is registered.
type fakeOpener struct {
	opened []string
	onOpen func(url string)
}

func (f *fakeOpener) Open(url string) error {
	f.opened = append(f.opened, url)
	if f.onOpen != nil {
		f.onOpen(url)
	}
	return nil
}

type fixture struct {
	downloads string
	instance  string
	opener    *fakeOpener
	progress  []Progress
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		downloads: filepath.Join(base, "Downloads"),
		instance:  filepath.Join(base, "pack"),
		opener:    &fakeOpener{},
	}
	require.NoError(t, os.MkdirAll(f.downloads, 0755))
	return f
}

func (f *fixture) coordinator(timeout time.Duration) *Coordinator {
	return NewCoordinator(Options{
		DownloadsDir: f.downloads,
		Destinations: rootResolver{root: f.instance},
		Opener:       f.opener,
		WaitTimeout:  timeout,
		Observer:     func(p Progress) { f.progress = append(f.progress, p) },
	})
}

func (f *fixture) drop(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.downloads, name), []byte(name), 0644))
}

func download(id, dest string, fileID int) resolver.ManualDownload {
	return resolver.ManualDownload{
		Item:       models.RequestedItem{ID: id, Dest: dest, Locator: &models.Locator{FileID: fileID, ProjectID: 1}},
		FileID:     fileID,
		ProjectID:  1,
		ModName:    id,
		WebsiteURL: "https://www.curseforge.com/minecraft/mc-mods/" + id,
	}
}

func TestNormalizeDownloadName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fancy Mod.jar", "Fancy+Mod.jar"},
		{"Fancy+Mod.jar", "Fancy+Mod.jar"},
		{"a b c.zip", "a+b+c.zip"},
		{"plain.jar", "plain.jar"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDownloadName(tt.in), tt.in)
	}
}

func TestReconcile_PreExistingFileMovedWithoutBrowser(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "Fancy+Mod.jar")

	report, failures, err := f.coordinator(time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("fancy", "mods/Fancy Mod.jar", 42),
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, f.opener.opened, "no browser page for a file already downloaded")

	require.Len(t, report.Moved, 1)
	assert.Equal(t, filepath.Join(f.instance, "mods", "Fancy Mod.jar"), report.Moved[0].Path)
	assert.Empty(t, report.Outstanding)
	require.Len(t, f.progress, 1)
	assert.Equal(t, Progress{Moved: 1, Total: 1, Last: "fancy"}, f.progress[0])

	assert.FileExists(t, filepath.Join(f.instance, "mods", "Fancy Mod.jar"))
	assert.NoFileExists(t, filepath.Join(f.downloads, "Fancy+Mod.jar"))
}

func TestReconcile_RawNameAlsoCountsAsPresent(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "Fancy Mod.jar")

	report, failures, err := f.coordinator(time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("fancy", "mods/Fancy Mod.jar", 42),
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, report.Moved, 1)
	assert.Empty(t, f.opener.opened)
}

func TestReconcile_CreatesInstanceSubdirs(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "a.jar")

	_, _, err := f.coordinator(time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("a", "mods/a.jar", 1),
	})
	require.NoError(t, err)
	for _, sub := range []string{"mods", "resourcepacks", "config"} {
		assert.DirExists(t, filepath.Join(f.instance, sub))
	}
}

func TestReconcile_WatchMatchesNormalizedName(t *testing.T) {
	f := newFixture(t)
	f.opener.onOpen = func(string) { f.drop(t, "Fancy+Mod.jar") }

	report, failures, err := f.coordinator(5*time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("fancy", "mods/Fancy Mod.jar", 42),
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, []string{"https://www.curseforge.com/minecraft/mc-mods/fancy/download/42"}, f.opener.opened)
	require.Len(t, report.Moved, 1)
	assert.FileExists(t, filepath.Join(f.instance, "mods", "Fancy Mod.jar"))
}

func TestReconcile_EmptyPlaceholderWaitsForFinishedFile(t *testing.T) {
	f := newFixture(t)
	f.opener.onOpen = func(string) {
		require.NoError(t, os.WriteFile(filepath.Join(f.downloads, "a.jar"), nil, 0644))
		part := filepath.Join(f.downloads, "a.jar.part")
		require.NoError(t, os.WriteFile(part, []byte("finished"), 0644))
		require.NoError(t, os.Rename(part, filepath.Join(f.downloads, "a.jar")))
	}

	report, failures, err := f.coordinator(5*time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("a", "mods/a.jar", 1),
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, report.Moved, 1)
	got, err := os.ReadFile(filepath.Join(f.instance, "mods", "a.jar"))
	require.NoError(t, err)
	assert.Equal(t, "finished", string(got))
}

func TestReconcile_EmptyPreExistingFileIsNotMoved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.downloads, "a.jar"), nil, 0644))

	report, failures, err := f.coordinator(200*time.Millisecond).Reconcile(context.Background(), []resolver.ManualDownload{
		download("a", "mods/a.jar", 1),
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrWaitAborted))
	assert.Empty(t, report.Moved)
	assert.Len(t, f.opener.opened, 1, "an empty file still needs its page opened")
}

func TestReconcile_MatchingIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	f.opener.onOpen = func(string) { f.drop(t, "fancy+mod.jar") }

	report, failures, err := f.coordinator(300*time.Millisecond).Reconcile(context.Background(), []resolver.ManualDownload{
		download("fancy", "mods/Fancy Mod.jar", 42),
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrWaitAborted))
	assert.Equal(t, "fancy", failures[0].Subject)
	assert.Empty(t, report.Moved)
	require.Len(t, report.Outstanding, 1)
	assert.FileExists(t, filepath.Join(f.downloads, "fancy+mod.jar"), "non-matching file is left alone")
}

func TestReconcile_TerminatesAfterAllMatchesIgnoringNoise(t *testing.T) {
	f := newFixture(t)
	downloads := []resolver.ManualDownload{
		download("a", "mods/Alpha Mod.jar", 1),
		download("b", "mods/beta.jar", 2),
		download("c", "resourcepacks/Gamma Pack.zip", 3),
	}
	f.opener.onOpen = func(url string) {
		f.drop(t, "unrelated-"+filepath.Base(url)+".txt")
		if len(f.opener.opened) == len(downloads) {
			f.drop(t, "noise.jar")
			f.drop(t, "Alpha+Mod.jar")
			f.drop(t, "beta.jar")
			f.drop(t, "Gamma+Pack.zip")
		}
	}

	done := make(chan struct{})
	var (
		report   *Report
		failures []models.Failure
		err      error
	)
	go func() {
		defer close(done)
		report, failures, err = f.coordinator(10*time.Second).Reconcile(context.Background(), downloads)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("watch loop did not terminate")
	}
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, report.Moved, 3)
	assert.Empty(t, report.Outstanding)
	assert.Equal(t, 3, f.progress[len(f.progress)-1].Moved)
	assert.FileExists(t, filepath.Join(f.instance, "resourcepacks", "Gamma Pack.zip"))
	assert.FileExists(t, filepath.Join(f.downloads, "noise.jar"))
}

func TestReconcile_SameProjectFilesAllMaterialize(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "first.jar")
	f.drop(t, "second.jar")

	report, failures, err := f.coordinator(time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("first", "mods/first.jar", 10),
		download("second", "mods/second.jar", 11),
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, report.Moved, 2)
}

func TestReconcile_CancelAbortsWait(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.opener.onOpen = func(string) { cancel() }

	report, failures, err := f.coordinator(0).Reconcile(ctx, []resolver.ManualDownload{
		download("a", "mods/a.jar", 1),
		download("b", "mods/b.jar", 2),
	})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	for _, failure := range failures {
		assert.True(t, errors.Is(failure, ErrWaitAborted))
		assert.True(t, errors.Is(failure, context.Canceled))
	}
	assert.Len(t, report.Outstanding, 2)
}

func TestReconcile_RemovedDownloadsDirInvalidatesWatch(t *testing.T) {
	f := newFixture(t)
	f.opener.onOpen = func(string) { require.NoError(t, os.RemoveAll(f.downloads)) }

	report, failures, err := f.coordinator(5*time.Second).Reconcile(context.Background(), []resolver.ManualDownload{
		download("a", "mods/a.jar", 1),
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrWatchInvalidated))
	assert.Len(t, report.Outstanding, 1)
}

func TestReconcile_RelocationErrorKeepsEntryPending(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "a.jar")
	// A file where the destination directory should be makes the move fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.instance, "mods"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.instance, "mods", "blocked"), nil, 0644))

	report, failures, err := f.coordinator(200*time.Millisecond).Reconcile(context.Background(), []resolver.ManualDownload{
		download("a", "mods/blocked/a.jar", 1),
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrWaitAborted))
	assert.Empty(t, report.Moved)
	assert.FileExists(t, filepath.Join(f.downloads, "a.jar"))
}

func TestReconcile_UnresolvableDestination(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "ok.jar")
	c := NewCoordinator(Options{
		DownloadsDir: f.downloads,
		Destinations: rootResolver{root: f.instance, fail: map[string]error{"../escape.jar": errors.New("outside pack")}},
		Opener:       f.opener,
		WaitTimeout:  time.Second,
	})

	report, failures, err := c.Reconcile(context.Background(), []resolver.ManualDownload{
		download("escape", "../escape.jar", 1),
		download("ok", "mods/ok.jar", 2),
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrRelocation))
	assert.Equal(t, "escape", failures[0].Subject)
	assert.Len(t, report.Moved, 1)
}

func TestReconcile_EmptyInputIsNoop(t *testing.T) {
	f := newFixture(t)
	report, failures, err := f.coordinator(0).Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, report.Moved)
	assert.NoDirExists(t, filepath.Join(f.instance, "mods"))
}
