package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric/iqa"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

var fitNIQEPatchSize int

var fitNIQECmd = &cobra.Command{
	Use:   "fit-niqe <pristine-images-dir> <output.json>",
	Short: "Fit the NIQE pristine model from a directory of undistorted images",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(args[0])
		if err != nil {
			return fmt.Errorf("unable to list '%s': %w", args[0], err)
		}
		ws, err := workspace.New(ctx, cfg.TempDir)
		if err != nil {
			return err
		}
		defer ws.Close()

		ingester := ingest.New(cfg.Ingest, nil)
		var images []image.Image
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(args[0], entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("unable to read '%s': %w", path, err)
			}
			sample, err := ingester.Ingest(ctx, ws, entry.Name(), data, media.KindImage)
			if err != nil {
				logger.Warnf(ctx, "skipping '%s': %v", path, err)
				continue
			}
			images = append(images, sample.Image)
		}
		if len(images) == 0 {
			return fmt.Errorf("no images found in '%s'", args[0])
		}

		model, err := iqa.FitNIQE(ctx, images, fitNIQEPatchSize)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(model, "", "  ")
		if err != nil {
			return fmt.Errorf("unable to serialize the model: %w", err)
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return fmt.Errorf("unable to write '%s': %w", args[1], err)
		}
		logger.Infof(ctx, "fitted the model over %d patches of %d images into %s", model.Patches, len(images), args[1])
		return nil
	},
}

func init() {
	fitNIQECmd.Flags().IntVar(&fitNIQEPatchSize, "patch-size", iqa.DefaultNIQEPatchSize, "the side of the square patches")
	rootCmd.AddCommand(fitNIQECmd)
}
