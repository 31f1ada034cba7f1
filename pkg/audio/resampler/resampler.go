// Package resampler converts signals between sample rates.
package resampler

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	resampling "github.com/tphakala/go-audio-resampling"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

// Resample converts the signal to the given sample rate. The output
// length is always round(len * outRate / inRate) and the sample at time t
// stays at time t: the filter latency is removed.
func Resample(
	ctx context.Context,
	sig audio.Signal,
	outRate audio.SampleRate,
) (audio.Signal, error) {
	if sig.SampleRate == 0 || outRate == 0 {
		return audio.Signal{}, fmt.Errorf("sample rates must be positive: %d -> %d", sig.SampleRate, outRate)
	}
	if sig.SampleRate == outRate {
		return sig.Clone(), nil
	}
	expected := ExpectedLength(len(sig.Samples), sig.SampleRate, outRate)
	if len(sig.Samples) == 0 {
		return audio.Signal{SampleRate: outRate, Samples: []float64{}}, nil
	}
	logger.Tracef(ctx, "resampling %d samples %d -> %d", len(sig.Samples), sig.SampleRate, outRate)

	lag, err := latency(sig.SampleRate, outRate)
	if err != nil {
		return audio.Signal{}, err
	}
	out, err := process(sig.Samples, sig.SampleRate, outRate)
	if err != nil {
		return audio.Signal{}, err
	}
	switch {
	case lag > 0:
		out = out[min(lag, len(out)):]
	case lag < 0:
		out = append(make([]float64, -lag), out...)
	}

	switch {
	case len(out) > expected:
		out = out[:expected]
	case len(out) < expected:
		out = append(out, make([]float64, expected-len(out))...)
	}
	return audio.Signal{
		SampleRate: outRate,
		Samples:    out,
	}, nil
}

func process(samples []float64, inRate, outRate audio.SampleRate) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a resampler %d -> %d: %w", inRate, outRate, err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("unable to resample: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("unable to flush the resampler: %w", err)
	}
	return append(out, tail...), nil
}

type ratePair struct {
	in, out audio.SampleRate
}

var latencies sync.Map

// latency returns how many output samples the raw resampler output lags
// the input time base (negative if it leads). It is measured once per
// rate pair by sending a unit impulse through the filter.
func latency(inRate, outRate audio.SampleRate) (int, error) {
	key := ratePair{in: inRate, out: outRate}
	if v, ok := latencies.Load(key); ok {
		return v.(int), nil
	}

	// one second of input; without lag the impulse in the middle lands
	// exactly at outRate/2
	impulse := make([]float64, 2*(int(inRate)/2))
	impulse[len(impulse)/2] = 1
	out, err := process(impulse, inRate, outRate)
	if err != nil {
		return 0, fmt.Errorf("unable to measure the resampler latency %d -> %d: %w", inRate, outRate, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("the resampler %d -> %d produced no output", inRate, outRate)
	}
	peak := 0
	for idx, v := range out {
		if math.Abs(v) > math.Abs(out[peak]) {
			peak = idx
		}
	}
	want := float64(len(impulse)/2) * float64(outRate) / float64(inRate)
	lag := peak - int(math.Round(want))
	latencies.Store(key, lag)
	return lag, nil
}

// ResampleBuffer resamples every channel of the buffer.
func ResampleBuffer(
	ctx context.Context,
	buf audio.Buffer,
	outRate audio.SampleRate,
) (audio.Buffer, error) {
	planes := make([][]float64, len(buf.Channels))
	for idx := range buf.Channels {
		sig, err := Resample(ctx, buf.Channel(idx), outRate)
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("unable to resample channel %d: %w", idx, err)
		}
		planes[idx] = sig.Samples
	}
	return audio.NewBuffer(outRate, planes...)
}

func ExpectedLength(n int, inRate, outRate audio.SampleRate) int {
	return int(math.Round(float64(n) * float64(outRate) / float64(inRate)))
}
