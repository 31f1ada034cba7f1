package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind Kind
	}{
		{"plain", errors.New("boom"), KindInternalProcessingError},
		{"classified", New(KindEmptyPayload, "empty"), KindEmptyPayload},
		{"wrapped", fmt.Errorf("outer: %w", New(KindAlignmentFailed, "no peak")), KindAlignmentFailed},
		{"deadline", fmt.Errorf("ffmpeg: %w", context.DeadlineExceeded), KindUpstreamTimeout},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ingest: %w", New(KindInvalidFormat, "not a video"))
	assert.True(t, errors.Is(err, InvalidFormat))
	assert.False(t, errors.Is(err, EmptyPayload))

	cause := errors.New("exit status 1")
	wrapped := Wrap(KindInternalProcessingError, cause, "ffmpeg failed")
	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, errors.Is(wrapped, InternalProcessingError))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "internal processing error", PublicMessage(Wrap(KindInternalProcessingError, errors.New("/tmp/secret path"), "decode")))
	assert.Equal(t, "the upload is empty", PublicMessage(New(KindEmptyPayload, "the upload is empty")))
	assert.Equal(t, "processing timed out", PublicMessage(context.DeadlineExceeded))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindEmptyPayload.HTTPStatus())
	assert.Equal(t, http.StatusUnsupportedMediaType, KindInvalidFormat.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, KindFrameCountMismatch.HTTPStatus())
	assert.Equal(t, http.StatusGatewayTimeout, KindUpstreamTimeout.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternalProcessingError.HTTPStatus())
}
