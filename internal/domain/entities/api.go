package entities

// ErrorResponse is the JSON error envelope returned by the HTTP layer
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
