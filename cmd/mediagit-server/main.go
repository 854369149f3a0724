// Command mediagit-server runs the MediaGit transfer protocol daemon: ref
// discovery, want/have negotiation, pack upload/download, and chunked
// large-object transfer over HTTP, against a single repository rooted at
// -repo.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mediagit/mediagit/config"
	"github.com/mediagit/mediagit/logging"
	"github.com/mediagit/mediagit/merge"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/refs"
	"github.com/mediagit/mediagit/storage"
	"github.com/mediagit/mediagit/transfer"
)

func main() {
	repoDir := flag.String("repo", ".", "repository root (containing .mediagit)")
	configPath := flag.String("config", "", "path to config.toml (defaults to <repo>/.mediagit/config.toml)")
	flag.Parse()

	if *configPath == "" {
		*configPath = filepath.Join(*repoDir, ".mediagit", "config.toml")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediagit-server: load config: %v\n", err)
		os.Exit(1)
	}

	format := logging.FormatJSON
	if cfg.Observability.LogFormat == "console" {
		format = logging.FormatConsole
	}
	logger, err := logging.New(cfg.Observability.LogLevel, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediagit-server: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	kv, err := openStorage(cfg, *repoDir)
	if err != nil {
		logger.Error("open storage", logging.Ref("error", err.Error()))
		os.Exit(1)
	}

	store := odb.New(kv, cfg.Performance.Cache.BudgetBytes)
	refsDB := refs.New(kv)

	isAncestor := func(ctx context.Context, ancestor, descendant oid.OID) (bool, error) {
		return merge.IsAncestor(ctx, store, ancestor, descendant)
	}

	server := transfer.NewServer(refsDB, store, isAncestor)

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	logger.Info("listening", logging.Ref("addr", addr))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Performance.Timeouts.Read(),
		WriteTimeout: cfg.Performance.Timeouts.Write(),
	}

	if cfg.Security.HTTPSEnabled {
		err = httpServer.ListenAndServeTLS(cfg.Security.TLSCertPath, cfg.Security.TLSKeyPath)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", logging.Ref("error", err.Error()))
		os.Exit(1)
	}
}

// openStorage selects the KV backend per cfg.Storage.Backend. HEAD, refs/,
// and objects/ all live as distinct key prefixes within one store, matching
// the on-disk layout under <repo>/.mediagit/.
func openStorage(cfg config.Config, repoDir string) (storage.KV, error) {
	switch cfg.Storage.Backend {
	case "filesystem":
		root := cfg.Storage.Filesystem.RootDir
		if root == "" {
			root = filepath.Join(repoDir, ".mediagit")
		}
		if !filepath.IsAbs(root) {
			root = filepath.Join(repoDir, root)
		}
		return storage.NewFilesystem(root)
	case "s3":
		return storage.NewS3(storage.S3Config{
			Endpoint: cfg.Storage.S3.Endpoint,
			Region:   cfg.Storage.S3.Region,
			Bucket:   cfg.Storage.S3.Bucket,
			Prefix:   cfg.Storage.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("storage backend %q has no wired implementation in this binary", cfg.Storage.Backend)
	}
}
