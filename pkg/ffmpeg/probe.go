package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Stream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixelFormat  string `json:"pix_fmt"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NumFrames    string `json:"nb_frames"`
	Duration     string `json:"duration"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Probe inspects the streams of the file.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	stdout, _, err := r.exec(ctx, r.FFprobePath, nil,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to probe '%s': %w", path, err)
	}
	return ParseProbe(stdout)
}

func ParseProbe(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unable to parse the ffprobe output: %w", err)
	}
	return &result, nil
}

// FirstStream returns the first stream of the given type ("video", "audio").
func (p *ProbeResult) FirstStream(codecType string) *Stream {
	for idx := range p.Streams {
		if p.Streams[idx].CodecType == codecType {
			return &p.Streams[idx]
		}
	}
	return nil
}

// Duration returns the stream duration, falling back to the container's.
func (p *ProbeResult) Duration(s *Stream) time.Duration {
	if s != nil {
		if d, ok := parseSeconds(s.Duration); ok {
			return d
		}
	}
	d, _ := parseSeconds(p.Format.Duration)
	return d
}

// FrameRate parses the average (or real) frame rate of a video stream.
func (s *Stream) FrameRate() float64 {
	if fps := ParseRational(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return ParseRational(s.RFrameRate)
}

func (s *Stream) FrameCount() int {
	n, err := strconv.Atoi(s.NumFrames)
	if err != nil {
		return 0
	}
	return n
}

func (s *Stream) SampleRateHz() int {
	n, err := strconv.Atoi(s.SampleRate)
	if err != nil {
		return 0
	}
	return n
}

// ParseRational parses "30000/1001" or "25" into a float; invalid → 0.
func ParseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) (time.Duration, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return time.Duration(math.Round(v * float64(time.Second))), true
}
