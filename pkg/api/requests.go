package api

// ChatRequest is the body of POST /api/v1/chat/stream. The multimodal
// endpoint carries the same fields as multipart form values.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	CanvasID  string `json:"canvas_id,omitempty"`
}
