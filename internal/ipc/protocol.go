// Package ipc implements the request/response service that exposes the vault
// to local clients, and the three codecs it is served over: length-prefixed
// stdio frames, newline-delimited JSON on a Unix socket or named pipe, and
// loopback HTTP.
package ipc

import (
	"encoding/json"
)

// Actions
const (
	ActionGetCredentials = "get_credentials"
	ActionSetCredentials = "set_credentials"
	ActionPing           = "ping"
)

// Client-visible error and status messages.
const (
	MsgUnknownAction      = "Unknown action"
	MsgLocked             = "App is locked"
	MsgDomainNotSpecified = "Domain not specified"
	MsgMissingFields      = "Missing domain, username or password"
	MsgNotFound           = "No credentials found for domain"
	MsgInvalidDomain      = "Invalid domain"
	MsgSaveFailed         = "Failed to save credentials"
	MsgInternal           = "Internal error"
	MsgTooLarge           = "Request too large"
	MsgBusy               = "Too many connections"
	msgInvalidJSONPrefix  = "Invalid JSON: "

	MsgPong         = "pong"
	MsgSaved        = "Credentials saved"
	MsgAlreadySaved = "Credentials already saved"
	MsgNotUpdated   = "Different credentials already saved for domain; not updated"
)

// Request is a client request. Empty strings are treated as absent.
type Request struct {
	Action   string `json:"action"`
	Domain   string `json:"domain,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Response is the reply to a Request. Absent fields are omitted.
type Response struct {
	OK       bool   `json:"ok"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse returns a failed response carrying msg.
func ErrorResponse(msg string) Response {
	return Response{OK: false, Error: msg}
}

// InvalidJSON returns the response for a payload that does not parse.
func InvalidJSON(err error) Response {
	return ErrorResponse(msgInvalidJSONPrefix + err.Error())
}

// ParseRequest decodes a request payload.
func ParseRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// MarshalResponse encodes resp. Encoding a Response cannot fail, so an error
// here is a programming bug and yields a fixed internal-error body.
func MarshalResponse(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"ok":false,"error":"` + MsgInternal + `"}`)
	}
	return data
}

// ParseResponse decodes a response payload.
func ParseResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
