package entry

// ClientError is an error captured outside the Go runtime, typically a
// browser error forwarded as {message, stack, name}.
type ClientError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Name    string `json:"name"`
}

func (e *ClientError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ClientError) Type() string {
	if e == nil {
		return ""
	}
	return e.Name
}

func (e *ClientError) StackTrace() string {
	if e == nil {
		return ""
	}
	return e.Stack
}
