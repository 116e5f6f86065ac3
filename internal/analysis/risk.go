package analysis

import "math"

const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// RiskLevel applies the rule table: any single strong signal is enough.
func RiskLevel(cvss, epss *float64, cases int) string {
	c, e := deref(cvss), deref(epss)
	switch {
	case e >= 0.7 || c >= 8.0 || cases >= 3:
		return RiskHigh
	case e >= 0.4 || c >= 6.0 || cases == 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskScore blends the three inputs into [0,1], rounded to two decimals.
func RiskScore(cvss, epss *float64, cases int) float64 {
	c := math.Min(math.Max(deref(cvss), 0), 10) / 10
	e := math.Min(math.Max(deref(epss), 0), 1)
	k := math.Min(float64(cases), 5) / 5
	return math.Round((0.6*c+0.3*e+0.1*k)*100) / 100
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
