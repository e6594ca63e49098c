package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVar(&cleanRoot, "pack-root", "", "Directory to clean (overrides config)")
	cleanCmd.Flags().BoolVarP(&cleanDryRun, "dry-run", "n", false, "Only list the files that would be removed")
}

var (
	cleanRoot   string
	cleanDryRun bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover temporary (.tmp) files from the pack",
	Long: `Recursively scans the pack root and removes files ending in .tmp. These are
partial copies left behind when moving a manual download across filesystems
was interrupted.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	root := globalConfig.PackRoot
	if cmd.Flags().Changed("pack-root") {
		root = cleanRoot
	}
	if root == "" {
		return fmt.Errorf("PackRoot is not configured; pass --pack-root")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("error accessing pack root %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pack root is not a directory: %s", root)
	}

	log.Infof("Scanning for .tmp files in %s...", root)
	removed, failed, err := removeTempFiles(root, cleanDryRun)
	if err != nil {
		log.Errorf("Error during directory walk of %q: %v", root, err)
	}

	summary := fmt.Sprintf("Clean complete. Removed: %d .tmp file(s)", removed)
	if cleanDryRun {
		summary = fmt.Sprintf("Dry run complete. Would remove: %d .tmp file(s)", removed)
	}
	if failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", failed)
	}
	log.Info(summary)

	if failed > 0 || err != nil {
		return errSilentExit
	}
	return nil
}

// removeTempFiles deletes *.tmp files below root and returns how many were
// removed and how many could not be.
func removeTempFiles(root string, dryRun bool) (removed, failed int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, walkErr)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".tmp") {
			return nil
		}
		if dryRun {
			log.Infof("Would remove .tmp file: %s", path)
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove .tmp file %q, but it was already gone.", path)
				return nil
			}
			log.Errorf("Failed to remove .tmp file %q: %v", path, err)
			failed++
			return nil
		}
		log.Infof("Removed .tmp file: %s", path)
		removed++
		return nil
	})
	return removed, failed, err
}
