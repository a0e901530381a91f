package relay

// GenerateRequest is the body of POST /api/generate and the first message of
// a WebSocket generation.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}
