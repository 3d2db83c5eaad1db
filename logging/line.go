package logging

import "time"

// Line is one diagnostic message emitted by the buffer machinery itself,
// never a buffered application entry.
type Line struct {
	Timestamp     time.Time `json:"timestamp"`
	Level         LogLevel  `json:"level"`
	Component     string    `json:"component"`
	Action        string    `json:"action"`
	Message       string    `json:"message"`
	Fields        Fields    `json:"fields,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorType     string    `json:"error_type,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
}
