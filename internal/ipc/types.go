package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the operation a worker asks the coordinator to perform
type Kind string

const (
	KindCacheGet       Kind = "CACHE_GET"
	KindCacheSet       Kind = "CACHE_SET"
	KindBlocklistCheck Kind = "BLOCKLIST_CHECK"
	KindLogRequest     Kind = "LOG_REQUEST"
	KindLogError       Kind = "LOG_ERROR"
)

// OneWayID marks a request for which no response is sent
const OneWayID = "ONEWAY"

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindCacheGet, KindCacheSet, KindBlocklistCheck, KindLogRequest, KindLogError:
		return true
	}
	return false
}

var (
	// ErrUnavailable is returned when the channel to the coordinator cannot carry the call
	ErrUnavailable = errors.New("ipc: coordinator channel unavailable")
	// ErrInvalidPayload is wrapped by every payload validation failure
	ErrInvalidPayload = errors.New("ipc: invalid payload")
)

// RemoteError carries a failure reported by the coordinator
type RemoteError struct {
	Message string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return e.Message
}

// Request is a message from a worker to the coordinator
type Request struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsOneWay returns true if no response is expected
func (r *Request) IsOneWay() bool {
	return r.ID == OneWayID
}

// Response is the coordinator's reply to a non-one-way request
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HasData returns true if the response carries a non-null result
func (r *Response) HasData() bool {
	return len(r.Data) > 0 && string(r.Data) != "null"
}

// NewRequest builds a request, marshaling payload
func NewRequest(id string, kind Kind, payload interface{}) (*Request, error) {
	req := &Request{ID: id, Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// NewResponse creates a successful response. A nil result yields no data.
func NewResponse(id string, result interface{}) (*Response, error) {
	resp := &Response{ID: id, Success: true}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resp.Data = data
	}
	return resp, nil
}

// NewErrorResponse creates a failed response
func NewErrorResponse(id string, message string) *Response {
	return &Response{ID: id, Success: false, Error: message}
}

// ParseRequest parses a single request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	return &req, nil
}

// ParseResponse parses a single response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// CacheSetPayload is the body of a CACHE_SET request
type CacheSetPayload struct {
	URL     string      `json:"url"`
	Headers http.Header `json:"headers"`
	Body    Bytes       `json:"body"`
}

// CacheEntryData is the data of a CACHE_GET response
type CacheEntryData struct {
	Headers    http.Header `json:"headers"`
	Body       Bytes       `json:"body"`
	CapturedAt int64       `json:"capturedAt"` // unix ms
}

// LogRequestPayload is the body of a LOG_REQUEST request
type LogRequestPayload struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

// LogErrorPayload is the body of a LOG_ERROR request
type LogErrorPayload struct {
	Message string `json:"message"`
}

// DecodeString decodes the string payload of CACHE_GET and BLOCKLIST_CHECK
func DecodeString(raw json.RawMessage) (string, error) {
	var s string
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: expected string: %v", ErrInvalidPayload, err)
	}
	return s, nil
}

// DecodeCacheSet decodes and validates a CACHE_SET payload
func DecodeCacheSet(raw json.RawMessage) (*CacheSetPayload, error) {
	var p CacheSetPayload
	if err := decodeObject(raw, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidPayload)
	}
	return &p, nil
}

// DecodeLogRequest decodes and validates a LOG_REQUEST payload
func DecodeLogRequest(raw json.RawMessage) (*LogRequestPayload, error) {
	var p LogRequestPayload
	if err := decodeObject(raw, &p); err != nil {
		return nil, err
	}
	if p.Method == "" || p.Status == "" {
		return nil, fmt.Errorf("%w: method and status are required", ErrInvalidPayload)
	}
	return &p, nil
}

// DecodeLogError decodes a LOG_ERROR payload
func DecodeLogError(raw json.RawMessage) (*LogErrorPayload, error) {
	var p LogErrorPayload
	if err := decodeObject(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeObject(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
