package response

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success", "warning" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// Warning reports a refused operation the client can recover from, such as a
// stage that was already decided. The caller should refresh its queue.
func Warning(statusCode int, msg string) Response {
	return Response{
		Status:     "warning",
		StatusCode: statusCode,
		Error:      msg,
	}
}
