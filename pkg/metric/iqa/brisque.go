package iqa

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"gonum.org/v1/gonum/floats"
)

const (
	BRISQUEFeatures = 2 * featuresPerScale

	brisqueMinSide = 32
)

var BRISQUERange = metric.Range{Min: 0, Max: 150}

// SVR is an epsilon support vector regression model with an RBF kernel,
// as stored by libsvm.
type SVR struct {
	Gamma   float64
	Rho     float64
	Coefs   []float64
	Vectors [][]float64
}

// ParseSVR reads a model in the libsvm text format.
func ParseSVR(r io.Reader, dimensions int) (*SVR, error) {
	model := &SVR{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<16), 1<<24)
	inVectors := false
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if !inVectors {
			switch fields[0] {
			case "svm_type":
				if len(fields) < 2 || (fields[1] != "epsilon_svr" && fields[1] != "nu_svr") {
					return nil, fmt.Errorf("line %d: unsupported svm_type %v", line, fields[1:])
				}
			case "kernel_type":
				if len(fields) < 2 || fields[1] != "rbf" {
					return nil, fmt.Errorf("line %d: unsupported kernel_type %v", line, fields[1:])
				}
			case "gamma", "rho":
				if len(fields) < 2 {
					return nil, fmt.Errorf("line %d: '%s' has no value", line, fields[0])
				}
				v, err := strconv.ParseFloat(fields[1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				if fields[0] == "gamma" {
					model.Gamma = v
				} else {
					model.Rho = v
				}
			case "SV":
				inVectors = true
			}
			continue
		}

		coef, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid coefficient: %w", line, err)
		}
		vec := make([]float64, dimensions)
		for _, f := range fields[1:] {
			idxStr, valStr, ok := strings.Cut(f, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: invalid feature '%s'", line, f)
			}
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 1 || idx > dimensions {
				return nil, fmt.Errorf("line %d: invalid feature index '%s'", line, idxStr)
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vec[idx-1] = val
		}
		model.Coefs = append(model.Coefs, coef)
		model.Vectors = append(model.Vectors, vec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(model.Vectors) == 0 {
		return nil, fmt.Errorf("the model has no support vectors")
	}
	if model.Gamma <= 0 {
		return nil, fmt.Errorf("the model has no positive gamma")
	}
	return model, nil
}

func (m *SVR) Predict(x []float64) float64 {
	var sum float64
	for idx, sv := range m.Vectors {
		d := floats.Distance(x, sv, 2)
		sum += m.Coefs[idx] * math.Exp(-m.Gamma*d*d)
	}
	return sum - m.Rho
}

// ScaleRange is the feature scaling written by svm-scale.
type ScaleRange struct {
	Lower float64
	Upper float64
	Min   []float64
	Max   []float64
}

func ParseScaleRange(r io.Reader, dimensions int) (*ScaleRange, error) {
	scanner := bufio.NewScanner(r)
	sr := &ScaleRange{
		Min: make([]float64, dimensions),
		Max: make([]float64, dimensions),
	}
	var headerRead, boundsRead bool
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case !headerRead:
			if fields[0] != "x" {
				return nil, fmt.Errorf("line %d: only feature scaling ('x') is supported, got '%s'", line, fields[0])
			}
			headerRead = true
		case !boundsRead:
			boundsRead = true
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: expected 'lower upper'", line)
			}
			var err error
			if sr.Lower, err = strconv.ParseFloat(fields[0], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if sr.Upper, err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		default:
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: expected 'index min max'", line)
			}
			idx, err := strconv.Atoi(fields[0])
			if err != nil || idx < 1 || idx > dimensions {
				return nil, fmt.Errorf("line %d: invalid feature index '%s'", line, fields[0])
			}
			if sr.Min[idx-1], err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if sr.Max[idx-1], err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if sr.Upper <= sr.Lower {
		return nil, fmt.Errorf("invalid scaling bounds [%v, %v]", sr.Lower, sr.Upper)
	}
	return sr, nil
}

// Apply scales the features in place. Constant features become zero.
func (sr *ScaleRange) Apply(x []float64) {
	for idx, v := range x {
		lo, hi := sr.Min[idx], sr.Max[idx]
		switch {
		case hi == lo:
			x[idx] = 0
		case v <= lo:
			x[idx] = sr.Lower
		case v >= hi:
			x[idx] = sr.Upper
		default:
			x[idx] = sr.Lower + (sr.Upper-sr.Lower)*(v-lo)/(hi-lo)
		}
	}
}

type BRISQUE struct {
	Model  *SVR
	Ranges *ScaleRange
}

var _ metric.Engine = (*BRISQUE)(nil)

func NewBRISQUE(model *SVR, ranges *ScaleRange) (*BRISQUE, error) {
	if model == nil || ranges == nil {
		return nil, fmt.Errorf("BRISQUE requires both the model and the feature ranges")
	}
	for idx, sv := range model.Vectors {
		if len(sv) != BRISQUEFeatures {
			return nil, fmt.Errorf("support vector %d has %d features instead of %d", idx, len(sv), BRISQUEFeatures)
		}
	}
	if len(ranges.Min) != BRISQUEFeatures {
		return nil, fmt.Errorf("the ranges describe %d features instead of %d", len(ranges.Min), BRISQUEFeatures)
	}
	return &BRISQUE{Model: model, Ranges: ranges}, nil
}

func (*BRISQUE) Kind() metric.Kind {
	return metric.KindBRISQUE
}

func (e *BRISQUE) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "brisque.Score")
	defer func() { logger.Tracef(ctx, "/brisque.Score: %v", _err) }()

	still, ok := input.(metric.StillImage)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}
	features, err := BRISQUEFeatureVector(ctx, still.Image)
	if err != nil {
		return nil, err
	}
	shape := features[0]
	e.Ranges.Apply(features)
	raw := e.Model.Predict(features)
	logger.Debugf(ctx, "BRISQUE raw prediction %.4f", raw)

	return metric.NewResult(metric.KindBRISQUE, metric.Round(BRISQUERange.Clamp(raw), 2), BRISQUERange, map[string]float64{
		"raw":        metric.Round(raw, 4),
		"mscn_shape": shape,
	})
}

// BRISQUEFeatureVector computes the natural scene statistics of img at its
// full and half resolution.
func BRISQUEFeatureVector(ctx context.Context, img image.Image) ([]float64, error) {
	if err := requireSize(img, brisqueMinSide, brisqueMinSide); err != nil {
		return nil, err
	}
	out := make([]float64, 0, BRISQUEFeatures)
	for _, scaled := range []image.Image{img, Halve(img)} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mscn, _ := MSCN(Luminance(scaled))
		features := naturalSceneFeatures(mscn)
		if features[1] < 1e-12 {
			return nil, failure.New(failure.KindInsufficientSignal, "the image has no detail")
		}
		out = append(out, features...)
	}
	return out, nil
}

func requireSize(img image.Image, minWidth, minHeight int) error {
	if img == nil {
		return failure.New(failure.KindEmptyPayload, "no image")
	}
	b := img.Bounds()
	if b.Dx() < minWidth || b.Dy() < minHeight {
		return failure.New(failure.KindInsufficientSignal,
			"the image is %dx%d, while at least %dx%d is required", b.Dx(), b.Dy(), minWidth, minHeight)
	}
	return nil
}
