package predict

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model predicts a label from a feature vector.
type Model interface {
	Predict(x []float64) float64
}

// Fitter fits a Model to the rows of x and the labels y. Implementations
// should return ctx.Err() promptly once ctx is done.
type Fitter func(ctx context.Context, x [][]float64, y []float64) (Model, error)

var errEmptyDataset = errors.New("empty dataset")

// Fitters maps the configurable model names to their Fitter.
var Fitters = map[string]Fitter{
	"boost":  FitBoostedStumps,
	"linear": FitLinear,
}

// linearModel is an affine function of the standardized features.
type linearModel struct {
	mean, scale []float64
	coef        []float64 // coef[0] is the intercept
}

func (m *linearModel) Predict(x []float64) float64 {
	y := m.coef[0]
	for j, v := range x {
		y += m.coef[j+1] * (v - m.mean[j]) / m.scale[j]
	}
	return y
}

// ridge is a small L2 penalty which keeps the normal equations positive
// definite when features are collinear, e.g. when every tx has the same gas
// limit.
const ridge = 1e-6

// FitLinear fits an ordinary least squares model with intercept, solving the
// normal equations by Cholesky factorization.
func FitLinear(ctx context.Context, x [][]float64, y []float64) (Model, error) {
	n := len(x)
	if n == 0 {
		return nil, errEmptyDataset
	}
	p := len(x[0])
	mean, scale := standardize(x)

	a := mat.NewDense(n, p+1, nil)
	for i, row := range x {
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, (v-mean[j])/scale[j])
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ata := mat.NewSymDense(p+1, nil)
	ata.SymOuterK(1, a.T())
	for j := 1; j <= p; j++ {
		ata.SetSym(j, j, ata.At(j, j)+ridge*float64(n))
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return nil, errors.New("FitLinear: normal equations not positive definite")
	}
	aty := mat.NewVecDense(p+1, nil)
	aty.MulVec(a.T(), mat.NewVecDense(n, y))

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, aty); err != nil {
		return nil, errors.Wrap(err, "FitLinear")
	}
	coef := make([]float64, p+1)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	return &linearModel{mean: mean, scale: scale, coef: coef}, nil
}

// standardize returns the per-column mean and standard deviation of x. Zero
// deviations are replaced by 1.
func standardize(x [][]float64) (mean, scale []float64) {
	p := len(x[0])
	mean = make([]float64, p)
	scale = make([]float64, p)
	col := make([]float64, len(x))
	for j := 0; j < p; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean[j] = floats.Sum(col) / float64(len(col))
		var ss float64
		for _, v := range col {
			ss += (v - mean[j]) * (v - mean[j])
		}
		scale[j] = math.Sqrt(ss / float64(len(col)))
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return
}

type stump struct {
	feature     int
	threshold   float64
	left, right float64
}

// boostedStumps is an additive model of depth-one regression trees.
type boostedStumps struct {
	init   float64
	rate   float64
	stumps []stump
}

func (m *boostedStumps) Predict(x []float64) float64 {
	y := m.init
	for _, s := range m.stumps {
		if x[s.feature] <= s.threshold {
			y += m.rate * s.left
		} else {
			y += m.rate * s.right
		}
	}
	return y
}

const (
	boostRounds = 300
	boostRate   = 1.0
)

// FitBoostedStumps fits a least-squares gradient boosted ensemble of
// depth-one trees.
func FitBoostedStumps(ctx context.Context, x [][]float64, y []float64) (Model, error) {
	n := len(x)
	if n == 0 {
		return nil, errEmptyDataset
	}
	p := len(x[0])

	// Presort sample indices by each feature.
	order := make([][]int, p)
	for j := range order {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]][j] < x[idx[b]][j] })
		order[j] = idx
	}

	m := &boostedStumps{init: floats.Sum(y) / float64(n), rate: boostRate}
	resid := make([]float64, n)
	for i := range resid {
		resid[i] = y[i] - m.init
	}

	for round := 0; round < boostRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, ok := bestStump(x, resid, order)
		if !ok {
			break // Residuals can't be split any further.
		}
		m.stumps = append(m.stumps, s)
		for i, row := range x {
			if row[s.feature] <= s.threshold {
				resid[i] -= m.rate * s.left
			} else {
				resid[i] -= m.rate * s.right
			}
		}
	}
	return m, nil
}

// bestStump finds the split minimizing the squared error of the residuals.
func bestStump(x [][]float64, resid []float64, order [][]int) (stump, bool) {
	n := len(resid)
	total := floats.Sum(resid)
	var (
		best     stump
		bestGain = 1e-12
		found    bool
	)
	for j, idx := range order {
		var sumL float64
		for k := 0; k < n-1; k++ {
			sumL += resid[idx[k]]
			v, next := x[idx[k]][j], x[idx[k+1]][j]
			if v == next {
				continue
			}
			nL, nR := float64(k+1), float64(n-k-1)
			sumR := total - sumL
			// Reduction in SSE relative to a single leaf.
			gain := sumL*sumL/nL + sumR*sumR/nR - total*total/float64(n)
			if gain > bestGain {
				bestGain = gain
				best = stump{
					feature:   j,
					threshold: (v + next) / 2,
					left:      sumL / nL,
					right:     sumR / nR,
				}
				found = true
			}
		}
	}
	return best, found
}
