package domain

// Result carries the outcome of a user-driven operation. Validation failures
// set Success=false with a message and a nil error, so callers can distinguish
// "the user asked for something invalid" from "the system broke".
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Ok builds a successful result
func Ok(message string) *Result {
	return &Result{Success: true, Message: message}
}

// Fail builds a failed result with a user-facing reason
func Fail(message string) *Result {
	return &Result{Success: false, Message: message}
}
