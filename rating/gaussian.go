package rating

import "math"

// gaussian is a normal distribution in precision form: pi = 1/σ² and
// tau = pi·μ. Products and quotients of gaussians are then plain sums and
// differences.
type gaussian struct {
	pi, tau float64
}

func newGaussian(mu, sigma float64) gaussian {
	pi := 1 / (sigma * sigma)
	return gaussian{pi: pi, tau: pi * mu}
}

func (g gaussian) mu() float64 {
	if g.pi == 0 {
		return 0
	}
	return g.tau / g.pi
}

func (g gaussian) sigma() float64 {
	if g.pi == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(1 / g.pi)
}

func (g gaussian) mul(o gaussian) gaussian { return gaussian{g.pi + o.pi, g.tau + o.tau} }

func (g gaussian) div(o gaussian) gaussian { return gaussian{g.pi - o.pi, g.tau - o.tau} }

func cdf(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func pdf(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }

func ppf(x float64) float64 { return -math.Sqrt2 * math.Erfcinv(2*x) }

// vWin and wWin correct the mean and variance of a performance difference
// truncated at the draw margin for a decisive result.
func vWin(diff, margin float64) float64 {
	x := diff - margin
	if d := cdf(x); d > 0 {
		return pdf(x) / d
	}
	return -x
}

func wWin(diff, margin float64) float64 {
	x := diff - margin
	v := vWin(diff, margin)
	return clampUnit(v * (v + x))
}

func vDraw(diff, margin float64) float64 {
	abs := math.Abs(diff)
	a, b := margin-abs, -margin-abs
	denom := cdf(a) - cdf(b)
	v := a
	if denom > 0 {
		v = (pdf(b) - pdf(a)) / denom
	}
	if diff < 0 {
		return -v
	}
	return v
}

func wDraw(diff, margin float64) float64 {
	abs := math.Abs(diff)
	a, b := margin-abs, -margin-abs
	denom := cdf(a) - cdf(b)
	if denom <= 0 {
		return 1 - epsilon
	}
	v := vDraw(abs, margin)
	return clampUnit(v*v + (a*pdf(a)-b*pdf(b))/denom)
}

const epsilon = 1e-9

func clampUnit(w float64) float64 {
	return math.Min(math.Max(w, epsilon), 1-epsilon)
}
