package incident

import "strings"

// Thresholds tune severity inference. Error rates are percentages, latency
// is milliseconds.
type Thresholds struct {
	ErrHighPct float64
	ErrMedPct  float64
	P95HighMs  float64
	P95MedMs   float64
}

// DefaultThresholds returns the stock inference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrHighPct: 1.0,
		ErrMedPct:  0.5,
		P95HighMs:  1000,
		P95MedMs:   800,
	}
}

var errorSignalNames = map[string]bool{
	"5xx":           true,
	"5xx_rate":      true,
	"error_rate":    true,
	"http_5xx_rate": true,
}

var latencySignalNames = map[string]bool{
	"latency_p95":    true,
	"latency_p95_ms": true,
	"p95_latency":    true,
	"latency":        true,
}

// Normalize converts incoming signals to consistent base units: error rates
// to percent, p95 latency to milliseconds. Unrecognized signals pass through.
func Normalize(signals []Signal) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, s := range signals {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		unit := strings.ToLower(strings.TrimSpace(s.Unit))
		v := s.Value

		switch {
		case errorSignalNames[name]:
			if unit == "ratio" || unit == "fraction" {
				v *= 100.0
			}
		case latencySignalNames[name]:
			switch unit {
			case "s", "sec", "secs", "second", "seconds":
				v *= 1000.0
			case "us", "µs":
				v /= 1000.0
			}
		}

		out = append(out, Signal{Name: name, Value: v, Unit: s.Unit, WindowS: s.WindowS})
	}
	return out
}

func pick(signals []Signal, names map[string]bool) (float64, bool) {
	for _, s := range signals {
		if names[s.Name] {
			return s.Value, true
		}
	}
	return 0, false
}

// InferSeverity classifies signals:
//
//	HIGH   if (err >= ErrHighPct and p95 >= P95HighMs), or either metric is
//	       far past its high threshold (err >= 2x, p95 >= 1.5x)
//	MEDIUM if err >= ErrMedPct or p95 >= P95MedMs
//	LOW    otherwise
func (t Thresholds) InferSeverity(signals []Signal) Severity {
	norm := Normalize(signals)
	errPct, _ := pick(norm, errorSignalNames)
	p95, _ := pick(norm, latencySignalNames)

	switch {
	case (errPct >= t.ErrHighPct && p95 >= t.P95HighMs) ||
		errPct >= t.ErrHighPct*2 || p95 >= t.P95HighMs*1.5:
		return SeverityHigh
	case errPct >= t.ErrMedPct || p95 >= t.P95MedMs:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
