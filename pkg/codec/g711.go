package codec

import (
	"github.com/xaionaro-go/qualityscore/pkg/audio/pcm"
)

const (
	ulawBias = 0x84
	ulawClip = 32635

	// ULawSilence is the μ-law code of a zero sample.
	ULawSilence = 0xFF
)

// LinearToULaw compresses a 16-bit linear sample (ITU-T G.711 μ-law).
func LinearToULaw(sample int16) byte {
	s := int(sample)
	var sign int
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// ULawToLinear expands a μ-law code to a 16-bit linear sample.
func ULawToLinear(code byte) int16 {
	code = ^code
	exponent := int(code>>4) & 0x07
	mantissa := int(code & 0x0F)
	s := ((mantissa<<3)+ulawBias)<<exponent - ulawBias
	if code&0x80 != 0 {
		return int16(-s)
	}
	return int16(s)
}

// EncodeULaw compresses normalized samples.
func EncodeULaw(samples []float64) []byte {
	linear := pcm.ToInt16(samples)
	out := make([]byte, len(linear))
	for idx, v := range linear {
		out[idx] = LinearToULaw(v)
	}
	return out
}

// DecodeULaw expands μ-law codes to normalized samples.
func DecodeULaw(codes []byte) []float64 {
	linear := make([]int16, len(codes))
	for idx, c := range codes {
		linear[idx] = ULawToLinear(c)
	}
	return pcm.FromInt16(linear)
}
