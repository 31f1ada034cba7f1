// Package codec simulates the transport of a capture over telephony codecs.
package codec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/codec/plc"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

type Band int

const (
	BandUndefined Band = iota
	BandNarrowband
	BandWideband
)

func (b Band) String() string {
	switch b {
	case BandNarrowband:
		return "narrowband"
	case BandWideband:
		return "wideband"
	default:
		return fmt.Sprintf("unknown_band_%d", int(b))
	}
}

const (
	CodecOpus  = "opus"
	CodecG711U = "g711u"
)

// Variant is the result of one encode-decode round trip.
type Variant struct {
	Codec      string
	Band       Band
	SampleRate audio.SampleRate
	Bitrate    int
	Signal     audio.Signal
	Transport  Transport
	Err        error
}

// Transport counts the RTP packets of a round trip; zero for codecs that
// are not packetized here.
type Transport struct {
	Sent int
	Lost int
}

type Variants struct {
	Wideband   Variant
	Narrowband Variant
}

func (v Variants) All() []Variant {
	return []Variant{v.Narrowband, v.Wideband}
}

type Simulator struct {
	Config     config.Codec
	OutputRate audio.SampleRate
	FFmpeg     *ffmpeg.Runner
	Concealer  plc.Concealer

	// SSRC identifies the simulated RTP stream.
	SSRC uint32
}

func NewSimulator(
	cfg config.Codec,
	outputRate audio.SampleRate,
	runner *ffmpeg.Runner,
) *Simulator {
	return &Simulator{
		Config:     cfg,
		OutputRate: outputRate,
		FFmpeg:     runner,
		Concealer:  plc.Spectral{},
		SSRC:       0x5153_0711,
	}
}

// Simulate runs both codecs on the same capture. It never fails as a
// whole: the error of each round trip is reported in its Variant.
func (s *Simulator) Simulate(
	ctx context.Context,
	ws *workspace.Workspace,
	capture audio.Signal,
) Variants {
	logger.Tracef(ctx, "Simulate")
	defer func() { logger.Tracef(ctx, "/Simulate") }()

	result := Variants{
		Wideband: Variant{
			Codec:      CodecOpus,
			Band:       BandWideband,
			SampleRate: audio.SampleRate(s.Config.OpusSampleRate),
			Bitrate:    s.Config.OpusBitrate,
		},
		Narrowband: Variant{
			Codec:      CodecG711U,
			Band:       BandNarrowband,
			SampleRate: audio.SampleRate(s.Config.G711SampleRate),
			Bitrate:    s.Config.G711SampleRate * 8,
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	observability.Go(ctx, func() {
		defer wg.Done()
		result.Wideband.Signal, result.Wideband.Err = s.SimulateOpus(ctx, ws, capture)
	})
	wg.Add(1)
	observability.Go(ctx, func() {
		defer wg.Done()
		result.Narrowband.Signal, result.Narrowband.Transport, result.Narrowband.Err = s.SimulateG711(ctx, capture)
	})
	wg.Wait()

	for _, v := range result.All() {
		if v.Err != nil {
			logger.Warnf(ctx, "%s (%s) round trip failed: %v", v.Codec, v.Band, v.Err)
		}
	}
	return result
}

func (s *Simulator) samplesPerPacket() int {
	return int(time.Duration(s.Config.G711SampleRate) * s.Config.RTPPacketDuration / time.Second)
}
