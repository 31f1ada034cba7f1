// Package config holds all the process-start tunables of the service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
)

// ProfileVersion identifies the set of scoring constants. Scores are
// only comparable between runs with the same profile.
const ProfileVersion = "qs-2026.10"

type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	PprofAddr      string        `yaml:"pprof_addr"`
	TempDir        string        `yaml:"temp_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	FFprobePath    string        `yaml:"ffprobe_path"`

	Assets    Assets    `yaml:"assets"`
	Ingest    Ingest    `yaml:"ingest"`
	Denoise   Denoise   `yaml:"denoise"`
	Alignment Alignment `yaml:"alignment"`
	Codec     Codec     `yaml:"codec"`
	Video     Video     `yaml:"video"`
	Speech    Speech    `yaml:"speech"`
}

type Assets struct {
	// Source is either "local" or "s3".
	Source          string `yaml:"source"`
	Dir             string `yaml:"dir"`
	S3              S3     `yaml:"s3"`
	ReferenceVideo  string `yaml:"reference_video"`
	ReferenceAudio  string `yaml:"reference_audio"`
	ReferenceSpeech string `yaml:"reference_speech"`
	NIQEModel       string `yaml:"niqe_model"`
	BRISQUEModel    string `yaml:"brisque_model"`
	BRISQUERange    string `yaml:"brisque_range"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type Ingest struct {
	MinAudioDuration  time.Duration `yaml:"min_audio_duration"`
	MaxAudioDuration  time.Duration `yaml:"max_audio_duration"`
	MinVideoDuration  time.Duration `yaml:"min_video_duration"`
	MaxVideoDuration  time.Duration `yaml:"max_video_duration"`
	MinSpeechCoverage float64       `yaml:"min_speech_coverage"`
	MinImageWidth     int           `yaml:"min_image_width"`
	MinImageHeight    int           `yaml:"min_image_height"`
	MaxImagePixels    int           `yaml:"max_image_pixels"`
}

type Denoise struct {
	// Method is either "spectralsub" or "none".
	Method          string  `yaml:"method"`
	FrameSize       int     `yaml:"frame_size"`
	HopSize         int     `yaml:"hop_size"`
	OverSubtraction float64 `yaml:"over_subtraction"`
	GainFloorDB     float64 `yaml:"gain_floor_db"`
	SmoothingBins   int     `yaml:"smoothing_bins"`
	PeakLimit       float64 `yaml:"peak_limit"`
}

type Alignment struct {
	// Method is either "gccphat" or "xcorr".
	Method        string        `yaml:"method"`
	MinConfidence float64       `yaml:"min_confidence"`
	MaxOffset     time.Duration `yaml:"max_offset"`
	MinFreq       float64       `yaml:"min_freq"`
	MaxFreq       float64       `yaml:"max_freq"`
}

type Codec struct {
	OpusBitrate       int           `yaml:"opus_bitrate"`
	OpusSampleRate    int           `yaml:"opus_sample_rate"`
	OpusApplication   string        `yaml:"opus_application"`
	G711SampleRate    int           `yaml:"g711_sample_rate"`
	RTPPacketDuration time.Duration `yaml:"rtp_packet_duration"`

	// PacketLoss is the probability of an RTP packet of the narrowband
	// call to be lost; lost packets are concealed by the receiver.
	PacketLoss     float64 `yaml:"packet_loss"`
	PacketLossSeed int64   `yaml:"packet_loss_seed"`
}

type Video struct {
	Window         time.Duration `yaml:"window"`
	CropDetect     bool          `yaml:"crop_detect"`
	FrameTolerance int           `yaml:"frame_tolerance"`
	Model          string        `yaml:"model"`
	Threads        int           `yaml:"threads"`
}

type Speech struct {
	SampleRate int           `yaml:"sample_rate"`
	VADMode    int           `yaml:"vad_mode"`
	MinVoice   time.Duration `yaml:"min_voice"`
}

func Default() Config {
	return Config{
		ListenAddr:     ":8000",
		MaxUploadBytes: 256 << 20,
		RequestTimeout: 10 * time.Minute,
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		Assets: Assets{
			Source:          "local",
			Dir:             "assets",
			ReferenceVideo:  "reference.mp4",
			ReferenceAudio:  "peaq_reference.wav",
			ReferenceSpeech: "pesq_reference.wav",
			NIQEModel:       "niqe_pristine.json",
			BRISQUEModel:    "brisque.model",
			BRISQUERange:    "brisque.range",
		},
		Ingest: Ingest{
			MinAudioDuration:  500 * time.Millisecond,
			MaxAudioDuration:  10 * time.Minute,
			MinVideoDuration:  time.Second,
			MaxVideoDuration:  30 * time.Minute,
			MinSpeechCoverage: 1.0,
			MinImageWidth:     96,
			MinImageHeight:    96,
			MaxImagePixels:    50_000_000,
		},
		Denoise: Denoise{
			Method:          "spectralsub",
			FrameSize:       1024,
			HopSize:         256,
			OverSubtraction: 2.0,
			GainFloorDB:     -15,
			SmoothingBins:   3,
			PeakLimit:       0.95,
		},
		Alignment: Alignment{
			Method:        "gccphat",
			MinConfidence: 0.1,
			MaxOffset:     5 * time.Second,
			MinFreq:       100,
			MaxFreq:       7000,
		},
		Codec: Codec{
			OpusBitrate:       32000,
			OpusSampleRate:    48000,
			OpusApplication:   "voip",
			G711SampleRate:    8000,
			RTPPacketDuration: 20 * time.Millisecond,
			PacketLoss:        0,
			PacketLossSeed:    1,
		},
		Video: Video{
			Window:         30 * time.Second,
			CropDetect:     true,
			FrameTolerance: 1,
		},
		Speech: Speech{
			SampleRate: 16000,
			VADMode:    2,
			MinVoice:   300 * time.Millisecond,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse the config file '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config '%s': %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	var result *multierror.Error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}

	check(cfg.MaxUploadBytes > 0, "max_upload_bytes must be positive")
	check(cfg.RequestTimeout > 0, "request_timeout must be positive")
	check(cfg.Assets.Source == "local" || cfg.Assets.Source == "s3", "assets.source must be 'local' or 's3', got '%s'", cfg.Assets.Source)
	if cfg.Assets.Source == "s3" {
		check(cfg.Assets.S3.Bucket != "", "assets.s3.bucket is required")
	}

	in := cfg.Ingest
	check(in.MinAudioDuration >= 0 && in.MinAudioDuration < in.MaxAudioDuration, "ingest: audio duration limits are inconsistent")
	check(in.MinVideoDuration >= 0 && in.MinVideoDuration < in.MaxVideoDuration, "ingest: video duration limits are inconsistent")
	check(in.MinSpeechCoverage >= 0 && in.MinSpeechCoverage <= 1, "ingest.min_speech_coverage must be within [0, 1]")
	check(in.MinImageWidth > 0 && in.MinImageHeight > 0, "ingest: minimal image dimensions must be positive")
	check(in.MaxImagePixels > in.MinImageWidth*in.MinImageHeight, "ingest.max_image_pixels is too small")

	d := cfg.Denoise
	check(d.Method == "spectralsub" || d.Method == "none", "denoise.method must be 'spectralsub' or 'none', got '%s'", d.Method)
	check(d.FrameSize > 0 && d.FrameSize%2 == 0, "denoise.frame_size must be a positive even number")
	check(d.HopSize > 0 && d.HopSize <= d.FrameSize, "denoise.hop_size must be within (0, frame_size]")
	check(d.OverSubtraction > 0, "denoise.over_subtraction must be positive")
	check(d.GainFloorDB < 0, "denoise.gain_floor_db must be negative")
	check(d.SmoothingBins >= 1 && d.SmoothingBins%2 == 1, "denoise.smoothing_bins must be a positive odd number")
	check(d.PeakLimit > 0 && d.PeakLimit <= 1, "denoise.peak_limit must be within (0, 1]")

	a := cfg.Alignment
	check(a.Method == "gccphat" || a.Method == "xcorr", "alignment.method must be 'gccphat' or 'xcorr', got '%s'", a.Method)
	check(a.MinConfidence >= 0 && a.MinConfidence < 1, "alignment.min_confidence must be within [0, 1)")
	check(a.MaxOffset > 0, "alignment.max_offset must be positive")
	check(a.MinFreq >= 0 && (a.MaxFreq == 0 || a.MaxFreq > a.MinFreq), "alignment: frequency band is inconsistent")

	c := cfg.Codec
	check(c.OpusBitrate >= 6000 && c.OpusBitrate <= 510000, "codec.opus_bitrate must be within [6000, 510000]")
	switch c.OpusSampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		check(false, "codec.opus_sample_rate %d is not supported by Opus", c.OpusSampleRate)
	}
	check(c.OpusApplication == "voip" || c.OpusApplication == "audio" || c.OpusApplication == "lowdelay", "codec.opus_application must be voip, audio or lowdelay")
	check(c.G711SampleRate == 8000, "codec.g711_sample_rate must be 8000")
	switch c.RTPPacketDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond:
	default:
		check(false, "codec.rtp_packet_duration must be 10, 20, 30 or 40ms")
	}
	check(c.PacketLoss >= 0 && c.PacketLoss < 0.5, "codec.packet_loss must be within [0, 0.5)")

	check(cfg.Video.Window > 0, "video.window must be positive")
	check(cfg.Video.FrameTolerance >= 0, "video.frame_tolerance must not be negative")

	s := cfg.Speech
	check(s.SampleRate == 16000, "speech.sample_rate must be 16000")
	check(s.VADMode >= 0 && s.VADMode <= 3, "speech.vad_mode must be within [0, 3]")
	check(s.MinVoice > 0, "speech.min_voice must be positive")

	return result.ErrorOrNil()
}
