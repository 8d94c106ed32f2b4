package model

// MissingCategory is the reserved categorical value for absent or unseen inputs.
const MissingCategory = "missing"

// FeatureVector is the derived representation of one session.
type FeatureVector struct {
	Values      map[string]float64 `json:"values"`
	Categorical map[string]string  `json:"categorical,omitempty"`
	SessionID   string             `json:"session_id"`
	Label       string             `json:"label,omitempty"`
	TopTerms    []string           `json:"top_terms,omitempty"`
	Degraded    []string           `json:"degraded,omitempty"`
}

// Raw merges numeric and categorical values into the mapping consumed by schema alignment.
func (v FeatureVector) Raw() map[string]any {
	raw := make(map[string]any, len(v.Values)+len(v.Categorical))
	for k, val := range v.Values {
		raw[k] = val
	}
	for k, val := range v.Categorical {
		raw[k] = val
	}
	return raw
}
