package iqa

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	NIQEFeatures         = 2 * featuresPerScale
	DefaultNIQEPatchSize = 96

	// patches sharper than this share of the sharpest one are used for fitting
	sharpnessThreshold = 0.75
)

var NIQERange = metric.Range{Min: 0, Max: 100}

// NIQEModel is the multivariate Gaussian of the patch features of
// pristine images.
type NIQEModel struct {
	PatchSize  int         `json:"patch_size"`
	Patches    int         `json:"patches"`
	Mean       []float64   `json:"mean"`
	Covariance [][]float64 `json:"covariance"`
}

func ParseNIQEModel(data []byte) (*NIQEModel, error) {
	var m NIQEModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unable to parse the NIQE model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *NIQEModel) validate() error {
	if m.PatchSize < 8 || m.PatchSize%2 != 0 {
		return fmt.Errorf("invalid NIQE patch size %d", m.PatchSize)
	}
	if len(m.Mean) != NIQEFeatures {
		return fmt.Errorf("the NIQE mean has %d features instead of %d", len(m.Mean), NIQEFeatures)
	}
	if len(m.Covariance) != NIQEFeatures {
		return fmt.Errorf("the NIQE covariance has %d rows instead of %d", len(m.Covariance), NIQEFeatures)
	}
	for idx, row := range m.Covariance {
		if len(row) != NIQEFeatures {
			return fmt.Errorf("the NIQE covariance row %d has %d columns", idx, len(row))
		}
	}
	return nil
}

func (m *NIQEModel) covariance() *mat.Dense {
	out := mat.NewDense(NIQEFeatures, NIQEFeatures, nil)
	for i, row := range m.Covariance {
		out.SetRow(i, row)
	}
	return out
}

// FitNIQE estimates the pristine model from the sharpest patches of images.
func FitNIQE(ctx context.Context, images []image.Image, patchSize int) (_ *NIQEModel, _err error) {
	logger.Tracef(ctx, "FitNIQE")
	defer func() { logger.Tracef(ctx, "/FitNIQE: %v", _err) }()

	var all [][]float64
	for idx, img := range images {
		features, err := patchFeatures(ctx, img, patchSize, true)
		if err != nil {
			return nil, fmt.Errorf("image #%d: %w", idx, err)
		}
		all = append(all, features...)
	}
	if len(all) < 2 {
		return nil, failure.New(failure.KindInsufficientSignal, "only %d usable patches, at least 2 are required", len(all))
	}

	mean, cov := gaussian(all)
	m := &NIQEModel{
		PatchSize:  patchSize,
		Patches:    len(all),
		Mean:       mean,
		Covariance: make([][]float64, NIQEFeatures),
	}
	for i := range m.Covariance {
		m.Covariance[i] = make([]float64, NIQEFeatures)
		for j := range m.Covariance[i] {
			m.Covariance[i][j] = cov.At(i, j)
		}
	}
	logger.Debugf(ctx, "fitted the NIQE model over %d patches of %d images", len(all), len(images))
	return m, nil
}

type NIQE struct {
	Model *NIQEModel
}

var _ metric.Engine = (*NIQE)(nil)

func NewNIQE(model *NIQEModel) (*NIQE, error) {
	if model == nil {
		return nil, fmt.Errorf("NIQE requires a pristine model")
	}
	if err := model.validate(); err != nil {
		return nil, err
	}
	return &NIQE{Model: model}, nil
}

func (*NIQE) Kind() metric.Kind {
	return metric.KindNIQE
}

func (e *NIQE) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "niqe.Score")
	defer func() { logger.Tracef(ctx, "/niqe.Score: %v", _err) }()

	still, ok := input.(metric.StillImage)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}
	features, err := patchFeatures(ctx, still.Image, e.Model.PatchSize, false)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, failure.New(failure.KindInsufficientSignal, "the image has no usable %dx%d patches", e.Model.PatchSize, e.Model.PatchSize)
	}

	distance, err := e.distance(features)
	if err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "NIQE distance %.4f over %d patches", distance, len(features))
	return metric.NewResult(metric.KindNIQE, metric.Round(NIQERange.Clamp(distance), 2), NIQERange, map[string]float64{
		"patches": float64(len(features)),
	})
}

func (e *NIQE) distance(features [][]float64) (float64, error) {
	mean, cov := gaussian(features)

	diff := mat.NewVecDense(NIQEFeatures, nil)
	for i := range mean {
		diff.SetVec(i, e.Model.Mean[i]-mean[i])
	}
	var pooled mat.Dense
	pooled.Add(e.Model.covariance(), cov)
	pooled.Scale(0.5, &pooled)

	inv, err := pseudoInverse(&pooled)
	if err != nil {
		return 0, err
	}
	var tmp mat.VecDense
	tmp.MulVec(inv, diff)
	return math.Sqrt(math.Max(mat.Dot(diff, &tmp), 0)), nil
}

// gaussian returns the mean and the covariance of the rows. The covariance
// of a single row is zero.
func gaussian(rows [][]float64) ([]float64, *mat.Dense) {
	n := len(rows)
	data := mat.NewDense(n, NIQEFeatures, nil)
	for i, row := range rows {
		data.SetRow(i, row)
	}
	mean := make([]float64, NIQEFeatures)
	for j := range mean {
		mean[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	cov := mat.NewDense(NIQEFeatures, NIQEFeatures, nil)
	if n < 2 {
		return mean, cov
	}
	var sym mat.SymDense
	stat.CovarianceMatrix(&sym, data, nil)
	cov.Copy(&sym)
	return mean, cov
}

func pseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("SVD factorization failed")
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r, c := a.Dims()
	tolerance := float64(max(r, c)) * values[0] * 2.220446049250313e-16
	for j, s := range values {
		inv := 0.0
		if s > tolerance {
			inv = 1 / s
		}
		for i := 0; i < c; i++ {
			v.Set(i, j, v.At(i, j)*inv)
		}
	}
	var out mat.Dense
	out.Mul(&v, u.T())
	return &out, nil
}

// patchFeatures computes the natural scene statistics of every patch at
// the full and half resolution.
func patchFeatures(ctx context.Context, img image.Image, patchSize int, sharpOnly bool) ([][]float64, error) {
	if err := requireSize(img, patchSize, patchSize); err != nil {
		return nil, err
	}
	full := Luminance(img)
	mscnFull, sigma := MSCN(full)
	mscnHalf, _ := MSCN(Luminance(Halve(img)))

	cols, rows := full.Width/patchSize, full.Height/patchSize
	half := patchSize / 2

	type patch struct {
		x, y      int
		sharpness float64
	}
	patches := make([]patch, 0, cols*rows)
	var sharpest float64
	for py := 0; py < rows; py++ {
		for px := 0; px < cols; px++ {
			s := stat.Mean(sigma.Sub(px*patchSize, py*patchSize, patchSize, patchSize).Pix, nil)
			patches = append(patches, patch{x: px, y: py, sharpness: s})
			sharpest = math.Max(sharpest, s)
		}
	}

	var out [][]float64
	for _, p := range patches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sharpOnly && (p.sharpness == 0 || p.sharpness <= sharpnessThreshold*sharpest) {
			continue
		}
		features := naturalSceneFeatures(mscnFull.Sub(p.x*patchSize, p.y*patchSize, patchSize, patchSize))
		features = append(features, naturalSceneFeatures(mscnHalf.Sub(p.x*half, p.y*half, half, half))...)
		out = append(out, features)
	}
	return out, nil
}
