package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"go-curseforge-resolver/index"
	"go-curseforge-resolver/internal/api"
	"go-curseforge-resolver/internal/config"
	"go-curseforge-resolver/internal/database"
	"go-curseforge-resolver/internal/helpers"
	"go-curseforge-resolver/internal/manual"
	"go-curseforge-resolver/internal/models"
	"go-curseforge-resolver/internal/pack"
	"go-curseforge-resolver/internal/resolver"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	resolveManifest    string
	resolvePackRoot    string
	resolveDownloads   string
	resolveWaitTimeout time.Duration
	resolveNoBrowser   bool
	resolveNoManual    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve every file in the manifest to a download location",
	Long: `Looks up every [[files]] entry of the manifest on CurseForge and prints the
direct download URL of each file. Files CurseForge will not hand out directly
have their download page opened in the browser; the Downloads directory is
then watched and each file is moved into the pack as soon as it arrives.

Exits with status 1 if any file could not be resolved.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveManifest, "manifest", "m", "", "Manifest file (overrides config, default pack.toml)")
	resolveCmd.Flags().StringVar(&resolvePackRoot, "pack-root", "", "Pack root directory (overrides config, defaults to the manifest's directory)")
	resolveCmd.Flags().StringVar(&resolveDownloads, "downloads", "", "Directory browser downloads land in (overrides config)")
	resolveCmd.Flags().DurationVar(&resolveWaitTimeout, "wait-timeout", 0, "Give up waiting for manual downloads after this long (0 waits until done or interrupted)")
	resolveCmd.Flags().BoolVar(&resolveNoBrowser, "no-browser", false, "Print download pages instead of opening them")
	resolveCmd.Flags().BoolVar(&resolveNoManual, "no-manual", false, "Only list manual downloads, do not wait for them")
}

// resolveConfig applies the resolve flags on top of the global config.
func resolveConfig(cmd *cobra.Command) (models.Config, error) {
	cfg := globalConfig
	if cmd.Flags().Changed("manifest") {
		cfg.ManifestPath = resolveManifest
	}
	if cmd.Flags().Changed("pack-root") {
		cfg.PackRoot = resolvePackRoot
	}
	if cfg.PackRoot == "" {
		cfg.PackRoot = filepath.Dir(cfg.ManifestPath)
		log.Debugf("PackRoot not set, using manifest directory %s", cfg.PackRoot)
	}
	if cmd.Flags().Changed("downloads") {
		cfg.DownloadsPath = resolveDownloads
	}
	if cmd.Flags().Changed("no-browser") {
		cfg.DisableBrowser = resolveNoBrowser
	}
	cfg = config.ApplyDefaults(cfg)
	return cfg, config.Validate(cfg)
}

// waitTimeout is --wait-timeout when given, else the configured seconds.
// The flag keeps sub-second precision so a short bound never becomes 0.
func waitTimeout(cmd *cobra.Command, cfg models.Config) time.Duration {
	if cmd.Flags().Changed("wait-timeout") {
		return resolveWaitTimeout
	}
	return time.Duration(cfg.WaitTimeoutSec) * time.Second
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	manifest, err := pack.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	root, err := pack.NewRoot(cfg.PackRoot)
	if err != nil {
		return err
	}
	items := manifest.Items()
	log.Infof("Resolving %d file(s) from %s", len(items), cfg.ManifestPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(cfg.ApiClientTimeoutSec) * time.Second,
	}
	client := api.NewClient(httpClient, cfg)
	resolution, failures, err := resolver.NewEngine(client).Resolve(ctx, items)
	if err != nil {
		return fmt.Errorf("resolving manifest: %w", err)
	}

	out := cmd.OutOrStdout()
	now := time.Now().Unix()
	var records []keyedRecord

	printDirect(out, resolution.Direct)
	for _, d := range resolution.Direct {
		records = append(records, keyedRecord{
			key: models.RecordKey(d.Item),
			rec: models.ResolutionRecord{
				ItemID:    d.Item.ID,
				FileID:    d.Item.Locator.FileID,
				ProjectID: d.Item.Locator.ProjectID,
				Status:    models.StatusDirect,
				URL:       d.URL.String(),
				Timestamp: now,
			},
		})
	}

	if len(resolution.Manual) > 0 {
		var (
			outstanding []resolver.ManualDownload
			moved       []manual.Moved
		)
		if resolveNoManual {
			outstanding = resolution.Manual
			printManual(out, outstanding)
		} else {
			report, manualFailures, err := reconcile(ctx, cmd, cfg, root, resolution.Manual)
			if err != nil {
				return err
			}
			failures = append(failures, manualFailures...)
			moved, outstanding = report.Moved, report.Outstanding
		}
		for _, m := range moved {
			rec := manualRecord(m.Download, models.StatusMaterialized, now)
			rec.Path = m.Path
			if sum, err := helpers.FileBlake3(m.Path); err == nil {
				rec.Blake3 = sum
			} else {
				log.WithError(err).Warnf("Could not fingerprint %s", m.Path)
			}
			records = append(records, keyedRecord{key: models.RecordKey(m.Download.Item), rec: rec})
		}
		for _, m := range outstanding {
			records = append(records, keyedRecord{key: models.RecordKey(m.Item), rec: manualRecord(m, models.StatusManual, now)})
		}
	}

	records = append(records, failedRecords(items, records, failures, now)...)
	persistRecords(cfg, records)

	if len(failures) > 0 {
		printFailures(cmd.ErrOrStderr(), failures)
		return errSilentExit
	}
	log.Info("All files resolved.")
	return nil
}

func reconcile(ctx context.Context, cmd *cobra.Command, cfg models.Config, root *pack.Root, downloads []resolver.ManualDownload) (*manual.Report, []models.Failure, error) {
	var opener manual.Opener = manual.BrowserOpener{}
	if cfg.DisableBrowser {
		opener = manual.LogOpener{}
	}

	writer := uilive.New()
	writer.Out = cmd.OutOrStdout()
	writer.Start()
	defer writer.Stop()

	fmt.Fprintf(writer, "Waiting for %d manual download(s)...\n", len(downloads))
	coordinator := manual.NewCoordinator(manual.Options{
		DownloadsDir:    cfg.DownloadsPath,
		Destinations:    root,
		Opener:          opener,
		InstanceSubdirs: cfg.InstanceSubdirs,
		WaitTimeout:     waitTimeout(cmd, cfg),
		Observer: func(p manual.Progress) {
			fmt.Fprintf(writer, "Moved %d/%d manual download(s), last: %s\n", p.Moved, p.Total, p.Last)
		},
	})
	return coordinator.Reconcile(ctx, downloads)
}

type keyedRecord struct {
	key string
	rec models.ResolutionRecord
}

func manualRecord(m resolver.ManualDownload, status string, now int64) models.ResolutionRecord {
	return models.ResolutionRecord{
		ItemID:    m.Item.ID,
		FileID:    m.FileID,
		ProjectID: m.ProjectID,
		ModName:   m.ModName,
		Status:    status,
		URL:       m.DownloadPageURL(),
		Timestamp: now,
	}
}

// failedRecords records items that ended in a failure and got no other record.
func failedRecords(items []models.RequestedItem, recorded []keyedRecord, failures []models.Failure, now int64) []keyedRecord {
	done := make(map[string]bool, len(recorded))
	for _, r := range recorded {
		done[r.rec.ItemID] = true
	}
	byID := make(map[string]models.RequestedItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var out []keyedRecord
	for _, f := range failures {
		item, ok := byID[f.Subject]
		if !ok || done[item.ID] {
			continue
		}
		done[item.ID] = true
		rec := models.ResolutionRecord{ItemID: item.ID, Status: models.StatusFailed, ErrorDetails: f.Error(), Timestamp: now}
		if item.Locator != nil {
			rec.FileID, rec.ProjectID = item.Locator.FileID, item.Locator.ProjectID
		}
		out = append(out, keyedRecord{key: models.RecordKey(item), rec: rec})
	}
	return out
}

// persistRecords writes records to the history DB and the search index.
// Errors are logged; the resolution result stands regardless.
func persistRecords(cfg models.Config, records []keyedRecord) {
	if len(records) == 0 {
		return
	}

	if path := databasePath(cfg); path != "" {
		db, err := database.Open(path)
		if err != nil {
			log.WithError(err).Warn("History database unavailable, results not recorded")
		} else {
			for _, r := range records {
				if err := db.PutRecord(r.key, r.rec); err != nil {
					log.WithError(err).Warnf("Failed to record %s", r.key)
				}
			}
			if err := db.Close(); err != nil {
				log.WithError(err).Warn("Error closing history database")
			}
		}
	}

	if path := indexPath(cfg); path != "" {
		idx, err := index.OpenOrCreateIndex(path)
		if err != nil {
			log.WithError(err).Warn("Search index unavailable, results not indexed")
			return
		}
		defer idx.Close()
		items := make([]index.Item, 0, len(records))
		for _, r := range records {
			items = append(items, index.ItemFromRecord(r.key, r.rec))
		}
		if err := index.IndexItems(idx, items); err != nil {
			log.WithError(err).Warn("Failed to index resolution records")
		}
	}
}

func printDirect(w io.Writer, direct []resolver.DirectDownload) {
	if len(direct) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tDestination\tURL")
	fmt.Fprintln(tw, "----\t-----------\t---")
	for _, d := range direct {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Item.ID, d.Item.Dest, d.URL)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer")
	}
}

func printManual(w io.Writer, downloads []resolver.ManualDownload) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tMod\tDestination\tDownload page")
	fmt.Fprintln(tw, "----\t---\t-----------\t-------------")
	for _, m := range downloads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Item.ID, m.ModName, m.Item.Dest, m.DownloadPageURL())
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer")
	}
}

func printFailures(w io.Writer, failures []models.Failure) {
	fmt.Fprintf(w, "%d file(s) could not be resolved:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s\n", f.Error())
		var statusErr *api.StatusError
		if errors.As(f, &statusErr) && errors.Is(statusErr, api.ErrUnauthorized) {
			fmt.Fprintln(w, "  (check the configured API key)")
		}
	}
}
