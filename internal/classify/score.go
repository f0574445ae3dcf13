package classify

// Weights applied to the primary metric of each classifier when blending the
// overall health score. Toxicity counts against the score.
var scoreWeights = map[string]float64{
	"sentiment":      0.35,
	"toxicity":       -0.25,
	"engagement":     0.15,
	"responsiveness": 0.15,
	"balance":        0.10,
}

// HealthScore blends classifier metrics into a single 0-100 score. Metrics
// are expected in [0,1]; anything outside is clamped. Missing metrics simply
// contribute nothing, so a partial metric set still yields a usable score.
func HealthScore(metrics map[string]float64) float64 {
	score := 50.0
	for id, weight := range scoreWeights {
		v, ok := metrics[id]
		if !ok {
			continue
		}
		score += weight * 100 * (clamp01(v) - 0.5)
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
