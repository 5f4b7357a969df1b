package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"crosscal/internal/models"
	"crosscal/pkg/robust"
)

// Reason classifies why a fit could not be produced
type Reason int

const (
	// ReasonEmpty means no valid target values were supplied
	ReasonEmpty Reason = iota

	// ReasonDegenerate means too few valid samples remained for the unknowns
	ReasonDegenerate

	// ReasonSingular means the least-squares system could not be solved
	ReasonSingular

	// ReasonNotConverged means outliers were still being rejected at the
	// iteration cap and strict convergence was requested
	ReasonNotConverged
)

func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty"
	case ReasonDegenerate:
		return "degenerate"
	case ReasonSingular:
		return "singular"
	case ReasonNotConverged:
		return "not_converged"
	default:
		return "unknown"
	}
}

// FitError is returned when the solver cannot produce a usable fit.
// It is a cell-local condition, never fatal to a batch.
type FitError struct {
	Reason   Reason
	Valid    int
	Unknowns int
}

func (e *FitError) Error() string {
	return fmt.Sprintf("regression: no fit (%s): %d valid samples for %d unknowns",
		e.Reason, e.Valid, e.Unknowns)
}

// ReasonOf extracts the failure reason from err
func ReasonOf(err error) (Reason, bool) {
	var fe *FitError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return 0, false
}

// Options holds the robust solver parameters
type Options struct {
	// Iterations caps the number of re-solves after the initial solve
	Iterations int

	// NSigma is the robust-std multiple beyond which a residual is an outlier
	NSigma float64

	// Threshold is the absolute residual beyond which a sample is an outlier
	Threshold float64

	// StrictConvergence turns hitting the iteration cap into a failure
	StrictConvergence bool
}

// DefaultOptions returns the solver defaults
func DefaultOptions() Options {
	return Options{
		Iterations: 5,
		NSigma:     5,
		Threshold:  10,
	}
}

// FitResult is the outcome of a successful robust fit
type FitResult struct {
	// Coefficients are aligned with the design matrix columns
	Coefficients []float64

	// RMS is the robust std of the residuals over all valid samples
	RMS float64

	// Kept marks the samples retained by the final solve
	Kept []bool

	// Iterations is the number of solves performed
	Iterations int

	// Converged is false when the cap was reached while still rejecting
	Converged bool
}

// Solve fits y = A x with iterative residual-based outlier rejection.
// Missing targets are dropped before each solve. A sample is rejected when
// |r| > NSigma*robust_std(r) or |r| > Threshold. The loop stops once a solve
// flags nothing new, or after Iterations re-solves.
func Solve(A *mat.Dense, y []models.Opt, opt Options) (*FitResult, error) {
	rows, p := A.Dims()
	if len(y) < rows {
		rows = len(y)
	}

	kept := make([]bool, rows)
	valid := 0
	for i := 0; i < rows; i++ {
		if y[i].Valid {
			kept[i] = true
			valid++
		}
	}
	if valid == 0 {
		return nil, &FitError{Reason: ReasonEmpty, Unknowns: p}
	}

	result := &FitResult{Kept: kept}
	for iter := 0; iter <= opt.Iterations; iter++ {
		idx := make([]int, 0, rows)
		for i := 0; i < rows; i++ {
			if kept[i] {
				idx = append(idx, i)
			}
		}
		if len(idx) <= p+1 {
			return nil, &FitError{Reason: ReasonDegenerate, Valid: len(idx), Unknowns: p}
		}

		x, err := lstsq(A, y, idx)
		if err != nil {
			return nil, err
		}
		result.Coefficients = x
		result.Iterations = iter + 1

		// Compute residuals of the retained samples
		res := make([]float64, len(idx))
		for k, i := range idx {
			res[k] = y[i].Value - rowDot(A, i, x)
		}
		s := robust.MadStd(res)

		// Detect outliers given MAD and threshold
		flagged := 0
		for k, i := range idx {
			r := math.Abs(res[k])
			if r > opt.NSigma*s || r > opt.Threshold {
				kept[i] = false
				flagged++
			}
		}
		if flagged == 0 {
			result.Converged = true
			break
		}
	}

	if !result.Converged && opt.StrictConvergence {
		return nil, &FitError{Reason: ReasonNotConverged, Valid: valid, Unknowns: p}
	}

	// Fit scale over every valid sample
	var all []float64
	for i := 0; i < rows; i++ {
		if y[i].Valid {
			all = append(all, y[i].Value-rowDot(A, i, result.Coefficients))
		}
	}
	result.RMS = robust.MadStd(all)
	return result, nil
}

// lstsq returns the minimum-norm least-squares solution over the given rows.
// The SVD handles the rank deficiency between the intercept and a full set
// of mission indicators.
func lstsq(A *mat.Dense, y []models.Opt, idx []int) ([]float64, error) {
	_, p := A.Dims()
	n := len(idx)

	sub := mat.NewDense(n, p, nil)
	b := mat.NewVecDense(n, nil)
	for k, i := range idx {
		sub.SetRow(k, A.RawRowView(i))
		b.SetVec(k, y[i].Value)
	}

	var svd mat.SVD
	if ok := svd.Factorize(sub, mat.SVDThin); !ok {
		return nil, &FitError{Reason: ReasonSingular, Valid: n, Unknowns: p}
	}

	// Same cutoff as a standard lstsq: eps * max(m, n)
	rcond := 2.220446049250313e-16 * float64(max(n, p))
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, &FitError{Reason: ReasonSingular, Valid: n, Unknowns: p}
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)

	out := make([]float64, p)
	for j := 0; j < p; j++ {
		out[j] = x.AtVec(j)
		if math.IsNaN(out[j]) || math.IsInf(out[j], 0) {
			return nil, &FitError{Reason: ReasonSingular, Valid: n, Unknowns: p}
		}
	}
	return out, nil
}

func rowDot(A *mat.Dense, i int, x []float64) float64 {
	return mat.Dot(A.RowView(i), mat.NewVecDense(len(x), x))
}

// Predict evaluates the model at every row of A
func (f *FitResult) Predict(A *mat.Dense) []float64 {
	rows, _ := A.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = rowDot(A, i, f.Coefficients)
	}
	return out
}

// Residuals returns y - A x; missing targets stay missing
func (f *FitResult) Residuals(A *mat.Dense, y []models.Opt) []models.Opt {
	pred := f.Predict(A)
	out := make([]models.Opt, len(y))
	for i := range y {
		if i < len(pred) {
			out[i] = y[i].Sub(models.Some(pred[i]))
		}
	}
	return out
}
