package baseline

import (
	"math"

	"github.com/rewired-gh/sitwatch/internal/models"
)

const (
	Epsilon = 1e-9

	// ElevatedZ and HighZ are the fixed |z| thresholds for deviation levels.
	ElevatedZ = 1.5
	HighZ     = 2.5
)

// UpdateWelford folds value into b's running mean and M2.
func UpdateWelford(b *models.Baseline, value float64) {
	b.SampleCount++
	delta := value - b.Mean
	b.Mean += delta / float64(b.SampleCount)
	delta2 := value - b.Mean
	b.M2 += delta * delta2
}

// Merge combines two baselines of the same metric as if every sample had been
// folded into one.
func Merge(a, b models.Baseline) models.Baseline {
	if b.SampleCount == 0 {
		return a
	}
	if a.SampleCount == 0 {
		b.Key = a.Key
		return b
	}
	na, nb := float64(a.SampleCount), float64(b.SampleCount)
	n := na + nb
	delta := b.Mean - a.Mean
	out := a
	out.SampleCount = a.SampleCount + b.SampleCount
	out.Mean = a.Mean + delta*nb/n
	out.M2 = a.M2 + b.M2 + delta*delta*na*nb/n
	return out
}

// Deviation measures observed against b. It never divides by zero and never
// returns NaN for finite input; with fewer than two samples the z-score is 0.
func Deviation(observed float64, b models.Baseline) models.DeviationResult {
	percent := (observed - b.Mean) / math.Max(b.Mean, Epsilon) * 100

	if b.SampleCount < 2 {
		return models.DeviationResult{
			ZScore:        0,
			PercentChange: percent,
			Level:         models.DeviationNormal,
		}
	}

	z := (observed - b.Mean) / math.Max(b.StdDev(), Epsilon)
	return models.DeviationResult{
		ZScore:        z,
		PercentChange: percent,
		Level:         levelFor(z),
	}
}

func levelFor(z float64) models.DeviationLevel {
	abs := math.Abs(z)
	switch {
	case abs >= HighZ:
		return models.DeviationHigh
	case abs >= ElevatedZ:
		return models.DeviationElevated
	default:
		return models.DeviationNormal
	}
}
