package api

// =============================================================================
// Response Types
// =============================================================================

// MessageResponse is the body of successful and informational responses.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of failed responses. Message is always "Error".
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
