package models

// These structs define the JSONL payloads exchanged with the batch
// prediction service: one RequestEnvelope per dataset record on the way
// in, one ResponseEnvelope decoded per result line on the way out.

// ContentPart is a single text fragment of a prompt or a response.
type ContentPart struct {
	Text string `json:"text"`
}

// Content is one turn of model input or output.
type Content struct {
	Role  string        `json:"role,omitempty"`
	Parts []ContentPart `json:"parts"`
}

// GenerationConfig carries the sampling parameters attached to every
// request of a run. Fixed per run, never per record.
type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// GenerationRequest is the model-facing body of a request line.
type GenerationRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"system_instruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generation_config,omitempty"`
}

// RequestEnvelope is one line of a chunk's input JSONL. CustomID must
// round-trip unchanged through the service and reappear verbatim on the
// corresponding result line.
type RequestEnvelope struct {
	CustomID string            `json:"custom_id"`
	Request  GenerationRequest `json:"request"`
}

// ResponseEnvelope is one decoded result line, reduced to the pair the
// merger needs. Reasoning may be empty when the upstream call itself
// produced no text. It doubles as the per-job checkpoint file entry.
type ResponseEnvelope struct {
	CustomID  string `json:"custom_id"`
	Reasoning string `json:"reasoning"`
}
