// qualityscore scores the perceptual quality of degraded recordings of
// known reference media.
//
// Usage:
//
//	qualityscore [flags] <command> [args]
//
// Commands:
//
//	serve     - run the HTTP service
//	score     - run one scoring pipeline on a local file
//	denoise   - subtract a room noise capture from a WAV file
//	fit-niqe  - fit the NIQE pristine model from a directory of images
//	version   - show the version and the scoring profile
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/qualityscore/pkg/config"
)

var (
	loggerLevel  = logger.LevelInfo
	configPath   string
	netPprofAddr string
)

var rootCmd = &cobra.Command{
	Use:           "qualityscore",
	Short:         "Perceptual quality scoring of video, audio, speech and images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		l := logrus.Default().WithLevel(loggerLevel)
		ctx := logger.CtxWithLogger(cmd.Context(), l)
		logger.Default = func() logger.Logger {
			return l
		}
		cmd.SetContext(ctx)
		startPprof(ctx, netPprofAddr)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		belt.Flush(cmd.Context())
	},
}

func init() {
	// config keys are snake_case, accept them as flag names too
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	flags := rootCmd.PersistentFlags()
	flags.Var(&loggerLevel, "log-level", "Log level")
	flags.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flags.StringVar(&netPprofAddr, "net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func startPprof(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	observability.Go(ctx, func() {
		logger.Infof(ctx, "net/pprof listens at %s", addr)
		logger.Errorf(ctx, "net/pprof stopped: %v", http.ListenAndServe(addr, nil))
	})
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("unable to load the config: %w", err)
	}
	return cfg, nil
}
