package models

import "net/http"

// Ack is the acknowledgement body returned by the device for commands
type Ack struct {
	Code int     `json:"code"`
	Data AckData `json:"data"`
}

// AckData carries the human-readable acknowledgement
type AckData struct {
	Message string `json:"message"`
}

// OK returns the acknowledgement the device sends for accepted commands
func OK() Ack {
	return Ack{Code: http.StatusOK, Data: AckData{Message: "OK"}}
}

// ErrorBody is returned by the device when a request is rejected
type ErrorBody struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
