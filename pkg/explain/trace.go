package explain

import (
	"encoding/json"
)

// Trace captures the diagnostic transcript of one top-level lookup.
type Trace struct {
	Key          string  `json:"key"`
	InvocationID string  `json:"invocation_id,omitempty"`
	Events       []Event `json:"events"`
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
