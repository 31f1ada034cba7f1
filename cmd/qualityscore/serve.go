package main

import (
	"context"
	"fmt"
	"net"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/scoring"
	"github.com/xaionaro-go/qualityscore/pkg/server"
)

var serveFlags struct {
	listenAddr string
	assetsDir  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP scoring service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen-addr") {
			cfg.ListenAddr = serveFlags.listenAddr
		}
		if cmd.Flags().Changed("assets-dir") {
			cfg.Assets.Dir = serveFlags.assetsDir
		}
		if netPprofAddr == "" {
			startPprof(ctx, cfg.PprofAddr)
		}

		scorer, err := newScorer(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeScorer(ctx, scorer)

		listener, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("unable to listen at '%s': %w", cfg.ListenAddr, err)
		}
		return server.New(cfg, scorer).Serve(ctx, listener)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.listenAddr, "listen-addr", config.Default().ListenAddr, "the address to serve HTTP at")
	serveCmd.Flags().StringVar(&serveFlags.assetsDir, "assets-dir", config.Default().Assets.Dir, "the directory of the reference assets (local source only)")
	rootCmd.AddCommand(serveCmd)
}

// newScorer loads the reference assets and builds the pipelines. Without
// ffmpeg only WAV, Ogg Vorbis and image uploads can be scored.
func newScorer(ctx context.Context, cfg config.Config) (*scoring.Scorer, error) {
	runner := ffmpeg.NewRunner(cfg.FFmpegPath, cfg.FFprobePath)
	if err := runner.Available(); err != nil {
		logger.Warnf(ctx, "%v; video and compressed audio cannot be scored", err)
		runner = nil
		cfg.Assets.ReferenceVideo = ""
	}

	src, err := assets.NewSource(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the asset source: %w", err)
	}
	pool, err := assets.Load(ctx, cfg.Assets, src, ingest.New(cfg.Ingest, runner), cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("unable to load the reference assets: %w", err)
	}
	scorer, err := scoring.New(ctx, cfg, pool, runner)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return scorer, nil
}

func closeScorer(ctx context.Context, scorer *scoring.Scorer) {
	var result *multierror.Error
	if err := scorer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := scorer.Assets.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to remove the asset cache: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Errorf(ctx, "%v", err)
	}
}
