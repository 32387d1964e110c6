package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/gateway"
	"github.com/ethpandaops/uploadoor/pkg/manifest"
	"github.com/ethpandaops/uploadoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	container   string
	cloudName   string
	cloudsFile  string
	password    string
	backend     string
	concurrency int
)

var uploadCmd = &cobra.Command{
	Use:   "upload [flags] <source>... <prefix>",
	Short: "Upload directories below a prefix",
	Long: `Upload one or more local files or directories into the container below
the given prefix. Every directory gets an index.html page; symlinks are
skipped. Exits non-zero if any object cannot be stored.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose (debug) logging")
	uploadCmd.Flags().StringVarP(&container, "container", "c", config.DefaultContainer,
		"container to upload to")
	uploadCmd.Flags().StringVar(&cloudName, "cloud", "",
		"named cloud from the clouds file to take endpoint and credentials from")
	uploadCmd.Flags().StringVar(&cloudsFile, "clouds-file", "",
		"clouds file path (default: user config dir, then /etc/uploadoor)")
	uploadCmd.Flags().StringVar(&password, "password", "",
		"password overriding the one of the selected cloud")
	uploadCmd.Flags().StringVar(&backend, "backend", "",
		"storage backend (s3, minio, local)")
	uploadCmd.Flags().IntVar(&concurrency, "concurrency", 0,
		"parallel uploads per directory (1 uploads sequentially)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := applyUploadFlags(cmd, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	opts, err := upload.OptionsFromConfig(&cfg.Upload)
	if err != nil {
		return fmt.Errorf("parsing upload options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	gw, err := gateway.New(log, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating storage gateway: %w", err)
	}

	defer func() {
		if err := gw.Close(); err != nil {
			log.WithError(err).Warn("Failed to close storage gateway")
		}
	}()

	if cfg.Manifest.Enabled {
		store := manifest.NewStore(log, &cfg.Manifest.Database)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting manifest store: %w", err)
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop manifest store")
			}
		}()

		opts.Recorder = store
	}

	sources := args[:len(args)-1]
	prefix := args[len(args)-1]

	log.WithFields(logrus.Fields{
		"backend":   cfg.Storage.Backend,
		"container": cfg.Upload.Container,
		"prefix":    prefix,
		"sources":   len(sources),
	}).Info("Starting upload")

	engine := upload.NewEngine(log, gw, opts)

	if err := engine.Upload(ctx, cfg.Upload.Container, sources, prefix); err != nil {
		return fmt.Errorf("uploading to %s: %w", cfg.Upload.Container, err)
	}

	return nil
}

// applyUploadFlags overrides config values with explicitly set flags.
func applyUploadFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("backend") {
		cfg.Storage.Backend = backend
	}

	if cloudName != "" {
		path := cloudsFile
		if path == "" {
			found, err := config.FindCloudsFile(config.DefaultCloudsFiles()...)
			if err != nil {
				return err
			}

			path = found
		}

		profile, err := config.LoadCloud(path, cloudName)
		if err != nil {
			return err
		}

		cfg.ApplyCloud(profile, password)

		log.WithFields(logrus.Fields{
			"cloud": cloudName,
			"file":  path,
		}).Debug("Loaded cloud credentials")
	} else if password != "" {
		return fmt.Errorf("--password requires --cloud")
	}

	if flags.Changed("container") || cfg.Upload.Container == "" {
		cfg.Upload.Container = container
	}

	if flags.Changed("concurrency") {
		cfg.Upload.Concurrency = concurrency
	}

	return nil
}
