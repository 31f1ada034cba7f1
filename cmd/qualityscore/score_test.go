package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlatten(t *testing.T) {
	out := map[string]string{}
	flatten("", map[string]any{
		"pesq_wb": 4.2,
		"pesq_nb": nil,
		"details": map[string]any{
			"resampled": true,
			"alignment": map[string]any{"samples": float64(800)},
		},
		"recorded_audio_b64": strings.Repeat("A", 100),
	}, out)

	assert.Equal(t, map[string]string{
		"pesq_wb":                   "4.2",
		"pesq_nb":                   "n/a",
		"details.resampled":         "true",
		"details.alignment.samples": "800",
		"recorded_audio_b64":        strings.Repeat("A", 32) + "… (100 bytes)",
	}, out)
}
