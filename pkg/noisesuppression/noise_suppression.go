package noisesuppression

import (
	"context"
	"io"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

type NoiseSuppression interface {
	io.Closer

	// Denoise removes from degraded the noise described by the ambient
	// capture. The result has the sample rate and the channel layout of
	// degraded. An empty ambient capture means there is nothing to remove.
	Denoise(ctx context.Context, ambient audio.Buffer, degraded audio.Buffer) (audio.Buffer, error)
}
