package risk

// Trend classifies how a user's risk is moving across recent messages.
type Trend int

const (
	TrendStable Trend = iota
	TrendImproving
	TrendWorsening
)

// String returns the lowercase trend name.
func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "improving"
	case TrendWorsening:
		return "worsening"
	default:
		return "stable"
	}
}

// HistoryAnalysis is the longitudinal view over a message sequence.
type HistoryAnalysis struct {
	CumulativeScore int // recency-weighted, clamped 0–100
	Trend           Trend
	Latest          Analysis
}

// trendDelta is the score movement needed before the trend leaves
// "stable".
const trendDelta = 10

// AnalyzeHistory scores a sequence of messages (oldest first) with
// later messages weighted more heavily, and classifies the trend by
// comparing the latest score against the mean of the two before it.
func (d *Detector) AnalyzeHistory(messages []string) HistoryAnalysis {
	if len(messages) == 0 {
		return HistoryAnalysis{}
	}

	scores := make([]int, len(messages))
	var latest Analysis
	for i, msg := range messages {
		a := d.Analyze(msg)
		scores[i] = a.Score
		if i == len(messages)-1 {
			latest = a
		}
	}

	// Recency weights 1..n over message order.
	weightedSum, weightTotal := 0, 0
	for i, s := range scores {
		w := i + 1
		weightedSum += s * w
		weightTotal += w
	}
	cumulative := weightedSum / weightTotal
	if cumulative > 100 {
		cumulative = 100
	}

	trend := TrendStable
	if len(scores) >= 3 {
		prior := (scores[len(scores)-2] + scores[len(scores)-3]) / 2
		current := scores[len(scores)-1]
		switch {
		case current >= prior+trendDelta:
			trend = TrendWorsening
		case current <= prior-trendDelta:
			trend = TrendImproving
		}
	}

	return HistoryAnalysis{
		CumulativeScore: cumulative,
		Trend:           trend,
		Latest:          latest,
	}
}
