package model

// ErrorResponse is the body of a failed control API request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionResponse is the body of a successful control API write. Status is
// the device state after the action.
type ActionResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
}
