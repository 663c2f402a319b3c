package handlers

// Response is the JSON body returned by the webhook endpoint.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func SuccessResponse() Response {
	return Response{OK: true}
}

func ErrorResponse(message string) Response {
	return Response{
		OK:    false,
		Error: message,
	}
}
