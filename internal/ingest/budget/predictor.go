package budget

import (
	"time"

	"github.com/vietddude/ghsync/internal/core/keyed"
)

// PredictionStats holds the consumption estimate for one tenant.
type PredictionStats struct {
	PointsPerMin     float64
	TimeToExhaustion time.Duration
	RemainingPoints  int
}

type costSample struct {
	at   time.Time
	cost int
}

// Predictor estimates when a tenant will exhaust its budget from recent query costs.
type Predictor struct {
	samples    *keyed.Store[[]costSample]
	windowSize time.Duration
	maxSamples int
	now        func() time.Time
}

// NewPredictor creates a predictor with a five-minute window.
func NewPredictor() *Predictor {
	return &Predictor{
		samples:    keyed.New[[]costSample](),
		windowSize: 5 * time.Minute,
		maxSamples: 1000,
		now:        time.Now,
	}
}

// RecordCost records the point cost of one query.
func (p *Predictor) RecordCost(tenant string, cost int) {
	if cost <= 0 {
		return
	}
	now := p.now()
	cutoff := now.Add(-p.windowSize)

	p.samples.Update(tenant, func(old []costSample, _ bool) ([]costSample, bool) {
		kept := make([]costSample, 0, len(old)+1)
		for _, s := range old {
			if s.at.After(cutoff) {
				kept = append(kept, s)
			}
		}
		kept = append(kept, costSample{at: now, cost: cost})
		if len(kept) > p.maxSamples {
			kept = kept[len(kept)-p.maxSamples:]
		}
		return kept, true
	})
}

// PointsPerMinute returns the consumption rate over the window.
func (p *Predictor) PointsPerMinute(tenant string) float64 {
	samples, ok := p.samples.Get(tenant)
	if !ok {
		return 0
	}

	cutoff := p.now().Add(-p.windowSize)
	total := 0
	for _, s := range samples {
		if s.at.After(cutoff) {
			total += s.cost
		}
	}
	return float64(total) / p.windowSize.Minutes()
}

// PredictTimeToExhaustion returns 0 when there is no recent consumption.
func (p *Predictor) PredictTimeToExhaustion(tenant string, remaining int) time.Duration {
	rate := p.PointsPerMinute(tenant)
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Minute))
}

// Stats returns the prediction for a tenant.
func (p *Predictor) Stats(tenant string, remaining int) PredictionStats {
	return PredictionStats{
		PointsPerMin:     p.PointsPerMinute(tenant),
		TimeToExhaustion: p.PredictTimeToExhaustion(tenant, remaining),
		RemainingPoints:  remaining,
	}
}

// Forget drops a tenant's samples.
func (p *Predictor) Forget(tenant string) {
	p.samples.Delete(tenant)
}
