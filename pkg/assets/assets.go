// Package assets holds the reference media and models loaded at process start.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric/iqa"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

// Asset is a reference sample. Read-only after loading.
type Asset struct {
	Name    string
	Version string
	Sample  *media.Sample
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s@%s", a.Name, a.Version)
}

// Version is the first 12 hex digits of the SHA-256 of data.
func Version(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

// Pool is safe for concurrent reads; it is never modified after Load.
type Pool struct {
	Source Source

	ReferenceVideo  *Asset
	ReferenceAudio  *Asset
	ReferenceSpeech *Asset

	NIQE          *iqa.NIQEModel
	BRISQUE       *iqa.SVR
	BRISQUERanges *iqa.ScaleRange

	ws *workspace.Workspace
}

// Load fetches every configured asset. Missing assets are logged and left
// nil, so only the endpoints depending on them fail.
func Load(
	ctx context.Context,
	cfg config.Assets,
	src Source,
	ingester *ingest.Ingester,
	cacheDir string,
) (_ *Pool, _err error) {
	logger.Tracef(ctx, "assets.Load(%s)", src)
	defer func() { logger.Tracef(ctx, "/assets.Load(%s): %v", src, _err) }()

	ws, err := workspace.New(ctx, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("unable to create the asset cache: %w", err)
	}
	p := &Pool{
		Source: src,
		ws:     ws,
	}

	var result *multierror.Error
	fetch := func(name string) []byte {
		if name == "" {
			return nil
		}
		data, err := src.Fetch(ctx, name)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warnf(ctx, "asset '%s' is not found in %s", name, src)
			return nil
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("unable to fetch '%s': %w", name, err))
			return nil
		}
		return data
	}
	reference := func(name string, kind media.Kind) *Asset {
		data := fetch(name)
		if data == nil {
			return nil
		}
		sample, err := ingester.Ingest(ctx, ws, name, data, kind)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid reference '%s': %w", name, err))
			return nil
		}
		a := &Asset{Name: name, Version: Version(data), Sample: sample}
		logger.Infof(ctx, "loaded reference %s: %s", a, sample)
		return a
	}

	p.ReferenceVideo = reference(cfg.ReferenceVideo, media.KindVideo)
	p.ReferenceAudio = reference(cfg.ReferenceAudio, media.KindAudio)
	p.ReferenceSpeech = reference(cfg.ReferenceSpeech, media.KindAudio)

	if data := fetch(cfg.NIQEModel); data != nil {
		if p.NIQE, err = iqa.ParseNIQEModel(data); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid '%s': %w", cfg.NIQEModel, err))
		}
	}
	if data := fetch(cfg.BRISQUEModel); data != nil {
		if p.BRISQUE, err = iqa.ParseSVR(bytes.NewReader(data), iqa.BRISQUEFeatures); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid '%s': %w", cfg.BRISQUEModel, err))
		}
	}
	if data := fetch(cfg.BRISQUERange); data != nil {
		if p.BRISQUERanges, err = iqa.ParseScaleRange(bytes.NewReader(data), iqa.BRISQUEFeatures); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid '%s': %w", cfg.BRISQUERange, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		ws.Close()
		return nil, err
	}
	return p, nil
}

// Require returns a, or an InternalProcessingError if it was not loaded.
func Require(a *Asset, what string) (*Asset, error) {
	if a == nil {
		return nil, failure.New(failure.KindInternalProcessingError, "the %s reference is not available", what)
	}
	return a, nil
}

func (p *Pool) Close() error {
	if p.ws == nil {
		return nil
	}
	return p.ws.Close()
}
