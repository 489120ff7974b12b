package capture

// ScalePolicy bounds the rasterisation scale factor.
type ScalePolicy struct {
	Max  float64
	Min  float64
	Step float64
}

// DefaultScalePolicy renders at 2× and steps down by 0.5 to a 1× floor.
var DefaultScalePolicy = ScalePolicy{Max: 2, Min: 1, Step: 0.5}

func (p ScalePolicy) normalised() ScalePolicy {
	d := DefaultScalePolicy
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Min <= 0 || p.Min > p.Max {
		p.Min = d.Min
	}
	if p.Step <= 0 {
		p.Step = d.Step
	}
	return p
}

// For returns the largest scale on the policy's ladder whose bitmap
// (width·scale × height·scale) stays within ceiling pixels. A ceiling of 0
// means unconstrained. The floor is always returned when nothing fits, so
// the result can exceed the ceiling for extremely tall surfaces.
func (p ScalePolicy) For(width, height int, ceiling int64) float64 {
	p = p.normalised()
	if ceiling <= 0 {
		return p.Max
	}
	area := float64(width) * float64(height)
	for s := p.Max; s > p.Min; s -= p.Step {
		if area*s*s <= float64(ceiling) {
			return s
		}
	}
	return p.Min
}

// SafeScale picks the scale for a width×height surface on platform.
func SafeScale(width, height int, platform Platform) float64 {
	return DefaultScalePolicy.For(width, height, platform.PixelCeiling)
}
