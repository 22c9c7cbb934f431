package models

// Result is the structured envelope every public entry point returns.
// Components never throw across boundaries; errors are carried as a
// message plus a machine-readable code.
type Result struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed Result from a message and code.
func Fail(code, message string) Result {
	return Result{Success: false, Error: message, ErrorCode: code}
}
