package iqa

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

func noiseImage(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func flatImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 130, B: 140, A: 255})
		}
	}
	return img
}

func boxBlur(src *image.Gray, radius int) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var sum, n int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= b.Dx() || yy >= b.Dy() {
						continue
					}
					sum += int(src.GrayAt(xx, yy).Y)
					n++
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum / n)})
		}
	}
	return out
}

func TestFitGGD(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	gauss := make([]float64, 100000)
	laplace := make([]float64, 100000)
	for i := range gauss {
		gauss[i] = rng.NormFloat64()
		laplace[i] = rng.ExpFloat64()
		if rng.Intn(2) == 0 {
			laplace[i] = -laplace[i]
		}
	}

	shape, variance := FitGGD(gauss)
	assert.InDelta(t, 2.0, shape, 0.1)
	assert.InDelta(t, 1.0, variance, 0.05)

	shape, variance = FitGGD(laplace)
	assert.InDelta(t, 1.0, shape, 0.1)
	assert.InDelta(t, 2.0, variance, 0.1)

	shape, variance = FitGGD(make([]float64, 10))
	assert.Zero(t, shape)
	assert.Zero(t, variance)
}

func TestFitAGGD(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := make([]float64, 100000)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	a := FitAGGD(x)
	assert.InDelta(t, 2.0, a.Shape, 0.15)
	assert.InDelta(t, 0, a.Mean, 0.05)
	assert.InDelta(t, a.LeftVariance, a.RightVariance, 0.05)

	// the right side is twice as wide
	for i, v := range x {
		if v > 0 {
			x[i] = 2 * v
		}
	}
	a = FitAGGD(x)
	assert.Greater(t, a.Mean, 0.5)
	assert.InDelta(t, 4*a.LeftVariance, a.RightVariance, 0.2)

	assert.Equal(t, AGGD{}, FitAGGD(make([]float64, 5)))
}

func TestMSCN(t *testing.T) {
	coefs, sigma := MSCN(Luminance(flatImage(20, 20)))
	for i := range coefs.Pix {
		assert.InDelta(t, 0, coefs.Pix[i], 1e-9)
		assert.InDelta(t, 0, sigma.Pix[i], 1e-4)
	}

	coefs, _ = MSCN(Luminance(noiseImage(64, 64, 3)))
	_, variance := FitGGD(coefs.Pix)
	assert.Greater(t, variance, 0.1)
}

func TestLuminance(t *testing.T) {
	p := Luminance(flatImage(4, 3))
	assert.Equal(t, 4, p.Width)
	assert.Equal(t, 3, p.Height)
	assert.InDelta(t, 0.299*120+0.587*130+0.114*140, p.At(3, 2), 1e-9)

	half := Halve(noiseImage(65, 33, 1))
	assert.Equal(t, image.Rect(0, 0, 32, 16), half.Bounds())
}

const svrModel = `svm_type epsilon_svr
kernel_type rbf
gamma 0.05
nr_class 2
total_sv 2
rho -20
SV
10 1:0 2:0
-2 1:1 36:1
`

func testBRISQUE(t *testing.T) *BRISQUE {
	model, err := ParseSVR(strings.NewReader(svrModel), BRISQUEFeatures)
	require.NoError(t, err)

	var ranges strings.Builder
	ranges.WriteString("x\n-1 1\n")
	for i := 1; i <= BRISQUEFeatures; i++ {
		ranges.WriteString(strconv.Itoa(i) + " -10 10\n")
	}
	sr, err := ParseScaleRange(strings.NewReader(ranges.String()), BRISQUEFeatures)
	require.NoError(t, err)

	e, err := NewBRISQUE(model, sr)
	require.NoError(t, err)
	return e
}

func TestParseSVR(t *testing.T) {
	model, err := ParseSVR(strings.NewReader(svrModel), BRISQUEFeatures)
	require.NoError(t, err)
	assert.Equal(t, 0.05, model.Gamma)
	assert.Equal(t, -20.0, model.Rho)
	assert.Equal(t, []float64{10, -2}, model.Coefs)
	require.Len(t, model.Vectors, 2)
	assert.Equal(t, 1.0, model.Vectors[1][0])
	assert.Equal(t, 1.0, model.Vectors[1][35])

	x := make([]float64, BRISQUEFeatures)
	assert.InDelta(t, 10-2*math.Exp(-0.05*2)+20, model.Predict(x), 1e-12)

	_, err = ParseSVR(strings.NewReader("svm_type c_svc\nSV\n1 1:1\n"), BRISQUEFeatures)
	require.Error(t, err)
	_, err = ParseSVR(strings.NewReader("gamma 1\nSV\n1 37:1\n"), BRISQUEFeatures)
	require.Error(t, err)
	_, err = ParseSVR(strings.NewReader("gamma 1\nSV\n"), BRISQUEFeatures)
	require.Error(t, err)
}

func TestScaleRange(t *testing.T) {
	sr, err := ParseScaleRange(strings.NewReader("x\n-1 1\n1 0 10\n2 5 5\n"), 3)
	require.NoError(t, err)
	x := []float64{5, 7, 3}
	sr.Apply(x)
	assert.Equal(t, []float64{0, 0, 0}, x)

	x = []float64{-3, 0, 0}
	sr.Apply(x)
	assert.Equal(t, -1.0, x[0])

	_, err = ParseScaleRange(strings.NewReader("y\n0 1\n"), 3)
	require.Error(t, err)
}

func TestBRISQUE(t *testing.T) {
	ctx := context.Background()
	e := testBRISQUE(t)

	res, err := e.Score(ctx, metric.StillImage{Image: noiseImage(96, 96, 5)})
	require.NoError(t, err)
	assert.Equal(t, metric.KindBRISQUE, res.Kind)
	assert.GreaterOrEqual(t, res.Score, 20-2.0)
	assert.LessOrEqual(t, res.Score, 30.0)

	again, err := e.Score(ctx, metric.StillImage{Image: noiseImage(96, 96, 5)})
	require.NoError(t, err)
	assert.Equal(t, res.Score, again.Score)

	_, err = e.Score(ctx, metric.StillImage{Image: flatImage(64, 64)})
	require.ErrorIs(t, err, failure.InsufficientSignal)

	_, err = e.Score(ctx, metric.StillImage{Image: noiseImage(16, 16, 1)})
	require.ErrorIs(t, err, failure.InsufficientSignal)

	_, err = e.Score(ctx, metric.SignalPair{})
	require.Error(t, err)
}

func TestNIQE(t *testing.T) {
	ctx := context.Background()
	const patch = 32

	var pristine []image.Image
	for seed := int64(10); seed < 13; seed++ {
		pristine = append(pristine, noiseImage(256, 256, seed))
	}
	model, err := FitNIQE(ctx, pristine, patch)
	require.NoError(t, err)
	assert.Equal(t, patch, model.PatchSize)
	assert.Greater(t, model.Patches, NIQEFeatures)

	e, err := NewNIQE(model)
	require.NoError(t, err)

	same, err := e.Score(ctx, metric.StillImage{Image: noiseImage(256, 256, 20)})
	require.NoError(t, err)
	blurred, err := e.Score(ctx, metric.StillImage{Image: boxBlur(noiseImage(256, 256, 20), 2)})
	require.NoError(t, err)
	assert.Greater(t, blurred.Score, same.Score)
	assert.True(t, NIQERange.Contains(same.Score))

	_, err = e.Score(ctx, metric.StillImage{Image: noiseImage(20, 20, 1)})
	require.ErrorIs(t, err, failure.InsufficientSignal)
}

func TestParseNIQEModel(t *testing.T) {
	_, err := ParseNIQEModel([]byte(`{"patch_size": 96, "mean": [1, 2], "covariance": []}`))
	require.Error(t, err)
	_, err = ParseNIQEModel([]byte(`{`))
	require.Error(t, err)
}

func TestPIQE(t *testing.T) {
	ctx := context.Background()
	e := NewPIQE()

	res, err := e.Score(ctx, metric.StillImage{Image: flatImage(64, 64)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Score)
	assert.Zero(t, res.SubMetrics["active_blocks"])

	res, err = e.Score(ctx, metric.StillImage{Image: noiseImage(64, 64, 7)})
	require.NoError(t, err)
	assert.Equal(t, 16.0, res.SubMetrics["active_blocks"])
	assert.Greater(t, res.Score, 50.0)
	assert.LessOrEqual(t, res.Score, 100.0)

	_, err = e.Score(ctx, metric.StillImage{Image: flatImage(8, 8)})
	require.ErrorIs(t, err, failure.InsufficientSignal)
}
