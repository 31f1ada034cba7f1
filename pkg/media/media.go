// Package media describes uploaded samples after ingestion.
package media

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

type Kind int

const (
	KindUndefined Kind = iota
	KindVideo
	KindAudio
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video":
		return KindVideo, nil
	case "audio", "speech":
		return KindAudio, nil
	case "image", "photo":
		return KindImage, nil
	default:
		return KindUndefined, fmt.Errorf("unknown media kind '%s'", s)
	}
}

// Attributes are the properties derived from the sample at ingestion.
type Attributes struct {
	Duration    time.Duration
	SampleRate  audio.SampleRate
	Channels    audio.Channel
	FrameRate   float64
	FrameCount  int
	Width       int
	Height      int
	PixelFormat string
}

// Sample is an ingested upload. It is never modified after ingestion.
type Sample struct {
	Kind       Kind
	Filename   string
	Container  string
	Codec      string
	Path       string
	Size       int
	Attributes Attributes

	// Audio is set for audio samples.
	Audio audio.Buffer
	// Image is set for image samples.
	Image image.Image

	data []byte
}

func NewSample(kind Kind, filename string, data []byte) *Sample {
	return &Sample{
		Kind:     kind,
		Filename: filename,
		Size:     len(data),
		data:     data,
	}
}

// Bytes returns a copy of the raw upload.
func (s *Sample) Bytes() []byte {
	return append([]byte(nil), s.data...)
}

func (s *Sample) String() string {
	return fmt.Sprintf("%s sample '%s' (%s/%s, %d bytes, %v)", s.Kind, s.Filename, s.Container, s.Codec, s.Size, s.Attributes.Duration)
}
