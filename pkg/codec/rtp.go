package codec

import (
	"fmt"
	"sort"

	"github.com/pion/rtp"
)

// PayloadTypePCMU is the static RTP payload type of G.711 μ-law.
const PayloadTypePCMU = 0

// Packetizer splits a stream of codes into marshalled RTP packets, one
// code per sample.
type Packetizer struct {
	PayloadType      uint8
	SSRC             uint32
	SamplesPerPacket int

	sequenceNumber uint16
	timestamp      uint32
}

func NewPacketizer(payloadType uint8, ssrc uint32, samplesPerPacket int) (*Packetizer, error) {
	if samplesPerPacket <= 0 {
		return nil, fmt.Errorf("samples per packet must be positive: %d", samplesPerPacket)
	}
	return &Packetizer{
		PayloadType:      payloadType,
		SSRC:             ssrc,
		SamplesPerPacket: samplesPerPacket,
	}, nil
}

func (p *Packetizer) Packetize(codes []byte) ([][]byte, error) {
	var packets [][]byte
	for start := 0; start < len(codes); start += p.SamplesPerPacket {
		end := min(start+p.SamplesPerPacket, len(codes))
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         start == 0,
				PayloadType:    p.PayloadType,
				SequenceNumber: p.sequenceNumber,
				Timestamp:      p.timestamp,
				SSRC:           p.SSRC,
			},
			Payload: codes[start:end],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("unable to marshal RTP packet #%d: %w", p.sequenceNumber, err)
		}
		packets = append(packets, raw)
		p.sequenceNumber++
		p.timestamp += uint32(end - start)
	}
	return packets, nil
}

// Segment is a contiguous run of samples received in one packet.
type Segment struct {
	// Offset is the position of the first sample relative to the first packet.
	Offset  int
	Payload []byte

	timestamp uint32
}

// Depacketize parses marshalled RTP packets (in any order) and returns
// their payloads ordered by timestamp. Packets of other payload types or
// of other sources are ignored, duplicates are dropped.
func Depacketize(packets [][]byte, payloadType uint8, ssrc uint32) ([]Segment, error) {
	var (
		segments []Segment
		base     uint32
		haveBase bool
		seen     = map[uint32]struct{}{}
	)
	for idx, raw := range packets {
		var pkt rtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			return nil, fmt.Errorf("unable to unmarshal RTP packet %d: %w", idx, err)
		}
		if pkt.PayloadType != payloadType || pkt.SSRC != ssrc {
			continue
		}
		if _, ok := seen[pkt.Timestamp]; ok {
			continue
		}
		seen[pkt.Timestamp] = struct{}{}
		if !haveBase || int32(pkt.Timestamp-base) < 0 {
			base = pkt.Timestamp
			haveBase = true
		}
		segments = append(segments, Segment{
			Payload:   append([]byte(nil), pkt.Payload...),
			timestamp: pkt.Timestamp,
		})
	}
	for idx := range segments {
		segments[idx].Offset = int(int32(segments[idx].timestamp - base))
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Offset < segments[j].Offset
	})
	return segments, nil
}
