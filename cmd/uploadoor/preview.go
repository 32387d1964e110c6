package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/uploadoor/pkg/manifest"
	"github.com/ethpandaops/uploadoor/pkg/preview"
	"github.com/spf13/cobra"
)

var (
	previewListen    string
	previewContainer string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Serve a locally stored container over HTTP",
	Long: `Serve a container written by the local storage backend, including its
index pages, with the content type and encoding an object store would use.`,
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().StringVar(&previewListen, "listen", "",
		"listen address (overrides preview.listen)")
	previewCmd.Flags().StringVarP(&previewContainer, "container", "c", "",
		"container to serve (overrides upload.container)")
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if previewListen != "" {
		cfg.Preview.Listen = previewListen
	}

	if previewContainer != "" {
		cfg.Upload.Container = previewContainer
	}

	if err := cfg.ValidatePreview(); err != nil {
		return fmt.Errorf("validating preview config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var store manifest.Store

	if cfg.Manifest.Enabled {
		store = manifest.NewStore(log, &cfg.Manifest.Database)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting manifest store: %w", err)
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop manifest store")
			}
		}()
	}

	srv := preview.NewServer(log, &cfg.Preview, cfg.Storage.Local.Dir, cfg.Upload.Container, store)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting preview server: %w", err)
	}

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down preview server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping preview server: %w", err)
	}

	return nil
}
