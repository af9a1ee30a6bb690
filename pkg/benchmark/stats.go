// Package benchmark computes variant comparisons over tagged sessions:
// per-metric aggregates, Welch's t-tests, chi-squared tests, effect sizes,
// and a human-readable summary.
package benchmark

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, 0 for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median returns the sample median, 0 for an empty sample.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// StdDev returns the sample standard deviation (n-1 denominator), 0 when
// fewer than two samples.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// WelchT runs Welch's two-sample t-test and returns the statistic, the
// Welch-Satterthwaite degrees of freedom, and the two-sided p-value.
func WelchT(a, b []float64) (t, df, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return 0, 0, 1
	}
	meanA, meanB := Mean(a), Mean(b)
	varA := StdDev(a) * StdDev(a)
	varB := StdDev(b) * StdDev(b)

	seSq := varA/na + varB/nb
	if seSq == 0 {
		if meanA == meanB {
			return 0, na + nb - 2, 1
		}
		return math.Inf(1), na + nb - 2, 0
	}
	t = (meanA - meanB) / math.Sqrt(seSq)
	df = seSq * seSq / (varA*varA/(na*na*(na-1)) + varB*varB/(nb*nb*(nb-1)))
	p = studentTTwoSidedP(t, df)
	return t, df, p
}

// studentTTwoSidedP is P(|T| > |t|) for Student's t with df degrees of
// freedom, via the regularized incomplete beta function.
func studentTTwoSidedP(t, df float64) float64 {
	if df <= 0 {
		return 1
	}
	x := df / (df + t*t)
	return regIncompleteBeta(df/2, 0.5, x)
}

// ChiSquared2x2 runs the chi-squared test on a 2x2 contingency table of
// successes/failures per variant, df=1. Returns the statistic, the p-value,
// and the phi effect size.
func ChiSquared2x2(successA, failA, successB, failB int) (x, p, phi float64) {
	a, b := float64(successA), float64(failA)
	c, d := float64(successB), float64(failB)
	n := a + b + c + d
	denom := (a + b) * (c + d) * (a + c) * (b + d)
	if n == 0 || denom == 0 {
		return 0, 1, 0
	}
	diff := a*d - b*c
	x = n * diff * diff / denom
	// chi-squared with df=1 is the square of a standard normal.
	p = math.Erfc(math.Sqrt(x / 2))
	phi = math.Sqrt(x / n)
	return x, p, phi
}

// CohenD is the standardized mean difference with the stddevs pooled as
// sqrt((sA^2+sB^2)/2).
func CohenD(a, b []float64) float64 {
	sa, sb := StdDev(a), StdDev(b)
	pooled := math.Sqrt((sa*sa + sb*sb) / 2)
	if pooled == 0 {
		return 0
	}
	return math.Abs(Mean(a)-Mean(b)) / pooled
}

// ConfidenceStars maps a p-value onto the display scale.
func ConfidenceStars(p float64) string {
	switch {
	case p < 0.01:
		return "★★★"
	case p < 0.05:
		return "★★"
	case p < 0.1:
		return "★"
	}
	return "—"
}

// regIncompleteBeta is the regularized incomplete beta function I_x(a, b),
// computed with the continued-fraction expansion.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lgA, _ := math.Lgamma(a)
	lgB, _ := math.Lgamma(b)
	lgAB, _ := math.Lgamma(a + b)
	front := math.Exp(lgAB - lgA - lgB + a*math.Log(x) + b*math.Log(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIterations = 200
		epsilon       = 3e-14
		tiny          = 1e-30
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < epsilon {
			break
		}
	}
	return h
}
