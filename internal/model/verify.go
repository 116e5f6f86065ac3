package model

type ValidationSignal struct {
	Kind    string  `json:"kind"`
	Weight  float64 `json:"weight"`
	Message string  `json:"message"`
}

type EnsembleComparison struct {
	Discrepancies       []string `json:"discrepancies"`
	ConsensusConfidence float64  `json:"consensus_confidence"`
}

type FactCheckResult struct {
	Verified         bool     `json:"verified"`
	GroundTruthScore *float64 `json:"ground_truth_score,omitempty"`
	Discrepancies    []string `json:"discrepancies"`
}
