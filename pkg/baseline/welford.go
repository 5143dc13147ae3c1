package baseline

import "math"

// Welford is an online mean/variance estimator.
type Welford struct {
	N    int64
	Mean float64
	m2   float64
}

// Add folds a new observation into the estimate.
func (w *Welford) Add(x float64) {
	w.N++
	delta := x - w.Mean
	w.Mean += delta / float64(w.N)
	w.m2 += delta * (x - w.Mean)
}

// Variance returns the population variance.
func (w *Welford) Variance() float64 {
	if w.N < 2 {
		return 0
	}
	return w.m2 / float64(w.N)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// FromSamples builds an estimator over the given samples.
func FromSamples(samples []float64) Welford {
	var w Welford
	for _, x := range samples {
		w.Add(x)
	}
	return w
}
