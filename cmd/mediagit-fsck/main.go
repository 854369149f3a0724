// Command mediagit-fsck verifies repository integrity — object checksums,
// ref validity, and connectivity from every ref tip — and optionally
// repairs what it can (deleting corrupt or dangling objects).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mediagit/mediagit/config"
	"github.com/mediagit/mediagit/fsck"
	"github.com/mediagit/mediagit/logging"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/refs"
	"github.com/mediagit/mediagit/storage"
)

func main() {
	repoDir := flag.String("repo", ".", "repository root (containing .mediagit)")
	configPath := flag.String("config", "", "path to config.toml (defaults to <repo>/.mediagit/config.toml)")
	dangling := flag.Bool("dangling", false, "also report objects unreachable from any ref")
	repair := flag.Bool("repair", false, "delete every repairable issue found")
	dryRun := flag.Bool("dry-run", false, "with -repair, report what would be deleted without deleting")
	flag.Parse()

	if *configPath == "" {
		*configPath = filepath.Join(*repoDir, ".mediagit", "config.toml")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediagit-fsck: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Observability.LogLevel, logging.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediagit-fsck: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	root := cfg.Storage.Filesystem.RootDir
	if root == "" {
		root = filepath.Join(*repoDir, ".mediagit")
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(*repoDir, root)
	}
	kv, err := storage.NewFilesystem(root)
	if err != nil {
		logger.Error("open storage", logging.Ref("error", err.Error()))
		os.Exit(1)
	}

	store := odb.New(kv, cfg.Performance.Cache.BudgetBytes)
	refsDB := refs.New(kv)
	checker := fsck.New(store, refsDB)

	ctx := context.Background()
	report, err := checker.Check(ctx, fsck.Options{IncludeDangling: *dangling})
	if err != nil {
		logger.Error("check failed", logging.Ref("error", err.Error()))
		os.Exit(1)
	}

	counts := report.CountBySeverity()
	fmt.Printf("objects seen: %d, refs seen: %d, reachable: %d\n", report.ObjectsSeen, report.RefsSeen, report.ReachableSeen)
	fmt.Printf("issues: %d error(s), %d warning(s)\n", counts[fsck.SeverityError], counts[fsck.SeverityWarning])
	for _, issue := range report.Issues {
		fmt.Printf("[%s] %s: %s\n", issue.Severity, issue.Category, issue.Message)
	}

	if !*repair {
		if counts[fsck.SeverityError] > 0 {
			os.Exit(1)
		}
		return
	}

	deleted, err := checker.Repair(ctx, report, *dryRun)
	if err != nil {
		logger.Error("repair failed", logging.Ref("error", err.Error()))
		os.Exit(1)
	}
	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s %d object(s)\n", verb, len(deleted))
}
