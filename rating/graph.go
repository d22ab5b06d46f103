package rating

import "math"

// variable is a node of the factor graph. It keeps the last message each
// neighbouring factor sent so that updates can replace them.
type variable struct {
	value gaussian
	msgs  map[factor]gaussian
}

type factor interface{ isFactor() }

func newVariable() *variable {
	return &variable{msgs: make(map[factor]gaussian)}
}

func (v *variable) set(val gaussian) float64 {
	d := v.delta(val)
	v.value = val
	return d
}

func (v *variable) delta(o gaussian) float64 {
	piDelta := math.Abs(v.value.pi - o.pi)
	if math.IsInf(piDelta, 1) {
		return 0
	}
	return math.Max(math.Abs(v.value.tau-o.tau), math.Sqrt(piDelta))
}

func (v *variable) updateMessage(f factor, msg gaussian) float64 {
	old := v.msgs[f]
	v.msgs[f] = msg
	return v.set(v.value.div(old).mul(msg))
}

func (v *variable) updateValue(f factor, val gaussian) float64 {
	old := v.msgs[f]
	v.msgs[f] = val.mul(old).div(v.value)
	return v.set(val)
}

// priorFactor seeds a skill variable with its prior widened by the
// dynamics factor tau.
type priorFactor struct {
	v       *variable
	prior   Rating
	dynamic float64
}

func (*priorFactor) isFactor() {}

func (f *priorFactor) down() float64 {
	sigma := math.Sqrt(f.prior.Sigma*f.prior.Sigma + f.dynamic*f.dynamic)
	return f.v.updateValue(f, newGaussian(f.prior.Mu, sigma))
}

// likelihoodFactor links a skill to a noisy performance.
type likelihoodFactor struct {
	mean, value *variable
	variance    float64
}

func (*likelihoodFactor) isFactor() {}

func (f *likelihoodFactor) a(g gaussian) float64 { return 1 / (1 + f.variance*g.pi) }

func (f *likelihoodFactor) down() float64 {
	msg := f.mean.value.div(f.mean.msgs[f])
	a := f.a(msg)
	return f.value.updateMessage(f, gaussian{a * msg.pi, a * msg.tau})
}

func (f *likelihoodFactor) up() float64 {
	msg := f.value.value.div(f.value.msgs[f])
	a := f.a(msg)
	return f.mean.updateMessage(f, gaussian{a * msg.pi, a * msg.tau})
}

// sumFactor constrains sum = Σ coeffs[i]·terms[i].
type sumFactor struct {
	sum    *variable
	terms  []*variable
	coeffs []float64
}

func (*sumFactor) isFactor() {}

func (f *sumFactor) down() float64 {
	msgs := make([]gaussian, len(f.terms))
	for i, t := range f.terms {
		msgs[i] = t.msgs[f]
	}
	return f.update(f.sum, f.terms, msgs, f.coeffs)
}

func (f *sumFactor) up(index int) float64 {
	coeff := f.coeffs[index]
	coeffs := make([]float64, len(f.coeffs))
	for i, c := range f.coeffs {
		switch {
		case coeff == 0:
			coeffs[i] = 0
		case i == index:
			coeffs[i] = 1 / coeff
		default:
			coeffs[i] = -c / coeff
		}
	}
	vals := append([]*variable(nil), f.terms...)
	vals[index] = f.sum
	msgs := make([]gaussian, len(vals))
	for i, v := range vals {
		msgs[i] = v.msgs[f]
	}
	return f.update(f.terms[index], vals, msgs, coeffs)
}

func (f *sumFactor) update(v *variable, vals []*variable, msgs []gaussian, coeffs []float64) float64 {
	piInv, mu := 0.0, 0.0
	for i, val := range vals {
		div := val.value.div(msgs[i])
		mu += coeffs[i] * div.mu()
		if math.IsInf(piInv, 1) {
			continue
		}
		if div.pi == 0 {
			piInv = math.Inf(1)
			continue
		}
		piInv += coeffs[i] * coeffs[i] / div.pi
	}
	pi := 1 / piInv
	return v.updateMessage(f, gaussian{pi: pi, tau: pi * mu})
}

// truncateFactor applies the observed ordering between two adjacent
// teams: a win beyond the draw margin, or a draw within it.
type truncateFactor struct {
	v      *variable
	vFunc  func(diff, margin float64) float64
	wFunc  func(diff, margin float64) float64
	margin float64
}

func (*truncateFactor) isFactor() {}

func (f *truncateFactor) up() float64 {
	div := f.v.value.div(f.v.msgs[f])
	sqrtPi := math.Sqrt(div.pi)
	diff, margin := div.tau/sqrtPi, f.margin*sqrtPi
	v := f.vFunc(diff, margin)
	w := f.wFunc(diff, margin)
	denom := 1 - w
	return f.v.updateValue(f, gaussian{pi: div.pi / denom, tau: (div.tau + sqrtPi*v) / denom})
}
