package model

// DefectRecord is one field observation to be judged against the master specs.
// Metadata is passed through untouched for display.
type DefectRecord struct {
	ID            string         `json:"id,omitempty"`
	DefectType    string         `json:"defect_type"`
	MeasuredValue float64        `json:"measured_value"`
	Unit          string         `json:"unit"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Decision is the classifier output label for a defect.
type Decision string

const (
	DecisionRepairable    Decision = "Repairable"
	DecisionNotRepairable Decision = "Not Repairable"
	DecisionServiceable   Decision = "Serviceable"

	// DecisionInsufficientData marks rows whose governing parameter had no
	// resolved value. Operators must treat it as "extract more data", never
	// as a rejection of the part.
	DecisionInsufficientData Decision = "Insufficient Data"
)

// worse orders decisions from best to worst for multi-parameter downgrade.
func (d Decision) worse(other Decision) Decision {
	rank := func(x Decision) int {
		switch x {
		case DecisionRepairable:
			return 0
		case DecisionServiceable:
			return 1
		case DecisionNotRepairable:
			return 2
		default: // insufficient data dominates: the judgment is incomplete
			return 3
		}
	}
	if rank(other) > rank(d) {
		return other
	}
	return d
}

// Worst returns the worse of two decisions. Mixed results downgrade.
func Worst(a, b Decision) Decision {
	return a.worse(b)
}

// SpecBasis records which resolved value a defect was judged against.
type SpecBasis struct {
	Parameter  string     `json:"parameter"`
	Value      string     `json:"value"`
	Unit       string     `json:"unit"`
	SourceType SourceType `json:"source_type"`
}

// ClassifiedDefect is a defect record with its decision attached.
type ClassifiedDefect struct {
	DefectRecord
	Decision      Decision    `json:"decision"`
	JudgedAgainst []SpecBasis `json:"judged_against,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}
