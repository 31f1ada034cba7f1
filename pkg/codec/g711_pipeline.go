package codec

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/codec/plc"
)

// SimulateG711 sends the capture through a narrowband G.711 μ-law RTP
// stream and returns what the receiver would play, at the output rate.
func (s *Simulator) SimulateG711(
	ctx context.Context,
	capture audio.Signal,
) (_ audio.Signal, _ Transport, _err error) {
	logger.Tracef(ctx, "SimulateG711")
	defer func() { logger.Tracef(ctx, "/SimulateG711: %v", _err) }()

	narrow, err := resampler.Resample(ctx, capture, audio.SampleRate(s.Config.G711SampleRate))
	if err != nil {
		return audio.Signal{}, Transport{}, fmt.Errorf("unable to resample to %d Hz: %w", s.Config.G711SampleRate, err)
	}

	packetizer, err := NewPacketizer(PayloadTypePCMU, s.SSRC, s.samplesPerPacket())
	if err != nil {
		return audio.Signal{}, Transport{}, err
	}
	packets, err := packetizer.Packetize(EncodeULaw(narrow.Samples))
	if err != nil {
		return audio.Signal{}, Transport{}, err
	}
	delivered := DropPackets(packets, s.Config.PacketLoss, s.Config.PacketLossSeed)
	transport := Transport{Sent: len(packets), Lost: len(packets) - len(delivered)}
	logger.Debugf(ctx, "G.711: %d samples in %d RTP packets, %d lost", len(narrow.Samples), transport.Sent, transport.Lost)

	segments, err := Depacketize(delivered, PayloadTypePCMU, s.SSRC)
	if err != nil {
		return audio.Signal{}, transport, err
	}
	received := audio.Signal{
		SampleRate: narrow.SampleRate,
		Samples:    Reassemble(segments, len(narrow.Samples), s.Concealer),
	}
	out, err := resampler.Resample(ctx, received, s.OutputRate)
	if err != nil {
		return audio.Signal{}, transport, err
	}
	return out, transport, nil
}

// DropPackets returns the packets that survive independent random loss
// with the given probability. The same seed loses the same packets. The
// first packet is always delivered: it anchors the timestamps.
func DropPackets(packets [][]byte, loss float64, seed int64) [][]byte {
	if loss <= 0 || len(packets) == 0 {
		return packets
	}
	rng := rand.New(rand.NewSource(seed))
	delivered := [][]byte{packets[0]}
	for _, pkt := range packets[1:] {
		if rng.Float64() < loss {
			continue
		}
		delivered = append(delivered, pkt)
	}
	return delivered
}

// Reassemble decodes the segments into a signal of the given length;
// samples not covered by any segment are concealed.
func Reassemble(segments []Segment, length int, concealer plc.Concealer) []float64 {
	out := make([]float64, length)
	covered := make([]bool, length)
	for _, seg := range segments {
		decoded := DecodeULaw(seg.Payload)
		for idx, v := range decoded {
			pos := seg.Offset + idx
			if pos < 0 || pos >= length {
				continue
			}
			out[pos] = v
			covered[pos] = true
		}
	}

	for pos := 0; pos < length; {
		if covered[pos] {
			pos++
			continue
		}
		end := pos
		for end < length && !covered[end] {
			end++
		}
		afterEnd := end
		for afterEnd < length && covered[afterEnd] {
			afterEnd++
		}
		beforeStart := pos
		for beforeStart > 0 && covered[beforeStart-1] {
			beforeStart--
		}
		copy(out[pos:end], concealer.Conceal(out[beforeStart:pos], out[end:afterEnd], end-pos))
		pos = end
	}
	return out
}
