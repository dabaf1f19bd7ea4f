package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/gamedir"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the digest cache",
	Long: `Commands for managing the mender digest cache.

With --cache (or cache.enabled in the config file) mender remembers the
digest of every file it hashed, keyed by path, size and modification time,
and skips hashing files that have not changed since.
Cache data is stored in the XDG cache directory (typically ~/.cache/mender/digests).`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [root]",
	Short: "Clear cached digests",
	Long: `Removes cached digests. With a root, only the digests of that
installation are removed; otherwise the whole cache is deleted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheClear,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats [root]",
	Short: "Show cache statistics",
	Long: `Displays the cache location, its size on disk and, with a root, the
number of digests held for that installation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheStats,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	Long:  `Prints the path to the cache directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cachePath, err := cachePath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cachePath)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cachePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.CacheDir(), nil
}

// runCacheClear removes the digests of one root, or the whole cache.
func runCacheClear(cmd *cobra.Command, args []string) error {
	cachePath, err := cachePath()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		fmt.Fprintln(w, "Cache is already empty.")
		return nil
	}

	if len(args) == 0 {
		if err := os.RemoveAll(cachePath); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintln(w, "Cache cleared.")
		return nil
	}

	root, err := gamedir.Validate(args[0])
	if err != nil {
		return err
	}
	store, err := cache.Open(cachePath)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	n, err := store.Count(root)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	if err := store.DeletePrefix(root); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintf(w, "Removed %d cached digests for %s.\n", n, root)
	return nil
}

// runCacheStats reports the cache size and, for a root, its digest count.
func runCacheStats(cmd *cobra.Command, args []string) error {
	cachePath, err := cachePath()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	info, err := os.Stat(cachePath)
	if os.IsNotExist(err) {
		fmt.Fprintln(w, "Cache: empty (no cache directory)")
		fmt.Fprintf(w, "Cache location: %s\n", cachePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat cache: %w", err)
	}

	var size int64
	var fileCount int
	err = filepath.Walk(cachePath, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
			fileCount++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to calculate cache size: %w", err)
	}

	fmt.Fprintf(w, "Cache location: %s\n", cachePath)
	fmt.Fprintf(w, "Cache size: %s\n", humanize.IBytes(uint64(size)))
	fmt.Fprintf(w, "Cache files: %d\n", fileCount)
	fmt.Fprintf(w, "Last modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))

	if len(args) == 0 {
		return nil
	}
	root, err := gamedir.Validate(args[0])
	if err != nil {
		return err
	}
	store, err := cache.Open(cachePath)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	n, err := store.Count(root)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	fmt.Fprintf(w, "Digests for %s: %d\n", root, n)
	return nil
}
