package model

// Inbound events sent by the sketch.
const (
	EventPredict = "ssam:replicate-predict"
	EventRun     = "ssam:replicate-run"
)

// Outbound events sent back to the originating client.
const (
	EventPrediction = "ssam:replicate-prediction"
	EventOutput     = "ssam:replicate-output"
	EventLog        = "ssam:log"
	EventWarn       = "ssam:warn"
)

// Request is the payload of a predict or run event.
//
// - Version is used by predict requests, Model by run requests.
// - Input is forwarded to the remote API untouched.
type Request struct {
	DryRun  *bool          `json:"dryRun,omitempty"`
	Version string         `json:"version,omitempty"`
	Model   string         `json:"model,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// IsDryRun reports whether the request must skip the remote API.
// A missing flag counts as a dry run.
func (r Request) IsDryRun() bool {
	if r.DryRun == nil {
		return true
	}
	return *r.DryRun
}

// Prediction is the result of the create+wait path.
type Prediction struct {
	ID     string
	Output []string
	// Record is the full remote record, relayed to the client as-is.
	Record any
}

// Payload returns what gets sent to the client for this prediction.
func (p Prediction) Payload() any {
	if p.Record != nil {
		return p.Record
	}
	return map[string]any{"id": p.ID, "output": p.Output}
}

// Message is the body of log and warning events.
type Message struct {
	Msg string `json:"msg"`
}

// DryRunResult is sent instead of a real result when the remote API is skipped.
type DryRunResult struct {
	Output []string `json:"output"`
}
