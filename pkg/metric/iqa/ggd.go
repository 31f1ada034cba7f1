package iqa

import (
	"math"
)

const (
	shapeMin  = 0.2
	shapeMax  = 10
	shapeStep = 0.001
)

// shapeRatios[i] is Γ(1/a)Γ(3/a)/Γ(2/a)² for a = shapeMin + i*shapeStep.
var shapeRatios = func() []float64 {
	n := int(math.Round((shapeMax-shapeMin)/shapeStep)) + 1
	out := make([]float64, n)
	for i := range out {
		a := shapeAt(i)
		g2 := math.Gamma(2 / a)
		out[i] = math.Gamma(1/a) * math.Gamma(3/a) / (g2 * g2)
	}
	return out
}()

func shapeAt(idx int) float64 {
	return shapeMin + float64(idx)*shapeStep
}

func closestShape(ratio float64, inverse bool) float64 {
	best, bestIdx := math.Inf(1), 0
	for idx, r := range shapeRatios {
		if inverse {
			r = 1 / r
		}
		if d := math.Abs(ratio - r); d < best {
			best, bestIdx = d, idx
		}
	}
	return shapeAt(bestIdx)
}

// FitGGD estimates the shape and the variance of a zero-mean generalized
// Gaussian distribution by moment matching. Degenerate input yields zeros.
func FitGGD(x []float64) (shape, variance float64) {
	if len(x) == 0 {
		return 0, 0
	}
	var sumSq, sumAbs float64
	for _, v := range x {
		sumSq += v * v
		sumAbs += math.Abs(v)
	}
	n := float64(len(x))
	variance = sumSq / n
	meanAbs := sumAbs / n
	if meanAbs == 0 {
		return 0, 0
	}
	return closestShape(variance/(meanAbs*meanAbs), false), variance
}

// AGGD is an asymmetric generalized Gaussian distribution.
type AGGD struct {
	Shape         float64
	Mean          float64
	LeftVariance  float64
	RightVariance float64
}

func (a AGGD) Features() []float64 {
	return []float64{a.Shape, a.Mean, a.LeftVariance, a.RightVariance}
}

func FitAGGD(x []float64) AGGD {
	var leftSq, rightSq, sumAbs, sumSq float64
	var leftN, rightN int
	for _, v := range x {
		switch {
		case v < 0:
			leftSq += v * v
			leftN++
		case v > 0:
			rightSq += v * v
			rightN++
		}
		sumAbs += math.Abs(v)
		sumSq += v * v
	}
	if sumSq == 0 {
		return AGGD{}
	}

	var leftStd, rightStd float64
	if leftN > 0 {
		leftStd = math.Sqrt(leftSq / float64(leftN))
	}
	if rightN > 0 {
		rightStd = math.Sqrt(rightSq / float64(rightN))
	}
	ratio := 1.0
	if leftStd > 0 && rightStd > 0 {
		ratio = leftStd / rightStd
	}

	n := float64(len(x))
	meanAbs := sumAbs / n
	rhat := meanAbs * meanAbs / (sumSq / n)
	rhatNorm := rhat * (ratio*ratio*ratio + 1) * (ratio + 1) / math.Pow(ratio*ratio+1, 2)
	shape := closestShape(rhatNorm, true)

	scale := math.Sqrt(math.Gamma(1/shape) / math.Gamma(3/shape))
	left, right := leftStd*scale, rightStd*scale
	return AGGD{
		Shape:         shape,
		Mean:          (right - left) * math.Gamma(2/shape) / math.Gamma(1/shape),
		LeftVariance:  leftStd * leftStd,
		RightVariance: rightStd * rightStd,
	}
}

// pairShifts are the horizontal, vertical and the two diagonal neighbours.
var pairShifts = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {-1, 1}}

func pairProducts(p *Plane, dx, dy int) []float64 {
	out := make([]float64, 0, p.Width*p.Height)
	for y := 0; y+dy < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			nx := x + dx
			if nx < 0 || nx >= p.Width {
				continue
			}
			out = append(out, p.At(x, y)*p.At(nx, y+dy))
		}
	}
	return out
}

// naturalSceneFeatures returns the 18 statistics of one scale of MSCN
// coefficients: the GGD shape and variance, followed by the AGGD
// parameters of each neighbour product.
func naturalSceneFeatures(mscn *Plane) []float64 {
	shape, variance := FitGGD(mscn.Pix)
	out := make([]float64, 0, featuresPerScale)
	out = append(out, shape, variance)
	for _, shift := range pairShifts {
		out = append(out, FitAGGD(pairProducts(mscn, shift[0], shift[1])).Features()...)
	}
	return out
}

const featuresPerScale = 18
