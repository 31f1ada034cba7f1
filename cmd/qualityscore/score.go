package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xaionaro-go/qualityscore/pkg/scoring"
)

const (
	pipelineVideo        = "video"
	pipelineAudio        = "audio"
	pipelineSpeech       = "speech"
	pipelineDeviceCall   = "device-call"
	pipelineCodecCall    = "codec-call"
	pipelineCompareBands = "compare-bands"
	pipelineImage        = "image"
)

var scoreFlags struct {
	roomNoise    string
	diagnostics  bool
	includeAudio bool
	asJSON       bool
}

var scoreCmd = &cobra.Command{
	Use:   "score <video|audio|speech|device-call|codec-call|compare-bands|image> [file]",
	Short: "Run one scoring pipeline on a local file and print the result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pipeline := args[0]
		needsFile := pipeline != pipelineCodecCall && pipeline != pipelineCompareBands
		if needsFile && len(args) != 2 {
			return fmt.Errorf("the %s pipeline needs a file to score", pipeline)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scorer, err := newScorer(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeScorer(ctx, scorer)

		var upload scoring.Upload
		if len(args) == 2 {
			if upload, err = readUpload(args[1]); err != nil {
				return err
			}
		}
		opts := scoring.Options{
			Diagnostics:  scoreFlags.diagnostics,
			IncludeAudio: scoreFlags.includeAudio,
		}

		var resp any
		switch pipeline {
		case pipelineVideo:
			resp, err = scorer.ScoreVideo(ctx, upload, opts)
		case pipelineAudio:
			var roomNoise *scoring.Upload
			if scoreFlags.roomNoise != "" {
				noise, err := readUpload(scoreFlags.roomNoise)
				if err != nil {
					return err
				}
				roomNoise = &noise
			}
			resp, err = scorer.ScoreAudio(ctx, upload, roomNoise, opts)
		case pipelineSpeech:
			resp, err = scorer.ScoreSpeech(ctx, upload, opts)
		case pipelineDeviceCall:
			resp, err = scorer.DeviceCall(ctx, upload, opts)
		case pipelineCodecCall:
			resp, err = scorer.CodecCall(ctx, opts)
		case pipelineCompareBands:
			resp, err = scorer.CompareBands(ctx, opts)
		case pipelineImage:
			resp, err = scorer.ScoreImage(ctx, upload, opts)
		default:
			return fmt.Errorf("unknown pipeline '%s'", pipeline)
		}
		if err != nil {
			return err
		}

		if scoreFlags.asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		return printResult(pipeline, resp)
	},
}

func init() {
	flags := scoreCmd.Flags()
	flags.StringVar(&scoreFlags.roomNoise, "room-noise", "", "a capture of the room noise to subtract (audio pipeline)")
	flags.BoolVar(&scoreFlags.diagnostics, "diagnostics", false, "include the alignment details and the sub-metrics")
	flags.BoolVar(&scoreFlags.includeAudio, "include-audio", false, "include the base64 WAV artifacts (speech pipelines)")
	flags.BoolVar(&scoreFlags.asJSON, "json", false, "print the raw JSON response")
	rootCmd.AddCommand(scoreCmd)
}

func readUpload(path string) (scoring.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scoring.Upload{}, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	return scoring.Upload{Filename: filepath.Base(path), Data: data}, nil
}

// printResult prints the response as aligned key-value pairs, nested
// objects flattened with dotted keys.
func printResult(pipeline string, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("unable to serialize the result: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unable to deserialize the result: %w", err)
	}

	pairs := map[string]string{}
	flatten("", tree, pairs)
	keys := make([]string, 0, len(pairs))
	width := 0
	for k := range pairs {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	fmt.Println(TitleStyle.Render(pipeline + " score"))
	for _, k := range keys {
		fmt.Printf("%s %s\n", KeyStyle.Render(k+":"+strings.Repeat(" ", width-len(k))), ValueStyle.Render(pairs[k]))
	}
	return nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			if prefix != "" {
				k = prefix + "." + k
			}
			flatten(k, child, out)
		}
	case nil:
		out[prefix] = "n/a"
	case string:
		if len(v) > 64 {
			out[prefix] = fmt.Sprintf("%s… (%d bytes)", v[:32], len(v))
			return
		}
		out[prefix] = v
	default:
		out[prefix] = fmt.Sprint(v)
	}
}
