// Package query issues SOQL queries and program-process commands against the
// loyalty data API through the gateway.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const DefaultAPIVersion = "v65.0"

// Runner executes a SOQL query and returns the raw records in the order the
// remote store produced them.
type Runner interface {
	Run(ctx context.Context, soql string) ([]json.RawMessage, error)
}

// Commander issues write requests relative to the data API root.
type Commander interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) error
}

// Client is everything the loyalty components need from the data API.
type Client interface {
	Runner
	Commander
}

// Forwarder is the gateway contract.
type Forwarder interface {
	Forward(ctx context.Context, method, path string, body []byte) (int, []byte, error)
}

// RemoteQueryError is a non-success response to a query.
type RemoteQueryError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("query failed (status %d): %s", e.Status, e.Message)
}

// CommandError is a non-success response to a command.
type CommandError struct {
	Status  int
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// Service implements Client on top of a Forwarder.
type Service struct {
	fwd     Forwarder
	version string
}

func NewService(fwd Forwarder, apiVersion string) *Service {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Service{fwd: fwd, version: apiVersion}
}

// DataRoot is the path prefix of the versioned REST API.
func (s *Service) DataRoot() string {
	return "/services/data/" + s.version
}

type queryResponse struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// Run executes soql and follows nextRecordsUrl until the result is complete.
func (s *Service) Run(ctx context.Context, soql string) ([]json.RawMessage, error) {
	path := s.DataRoot() + "/query?q=" + url.QueryEscape(soql)

	var records []json.RawMessage
	for path != "" {
		status, payload, err := s.fwd.Forward(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if status < 200 || status > 299 {
			code, msg := ExtractError(payload, "API Error")
			return nil, &RemoteQueryError{Status: status, Code: code, Message: msg}
		}

		var qr queryResponse
		if err := json.Unmarshal(payload, &qr); err != nil {
			return nil, fmt.Errorf("decode query response: %w", err)
		}
		records = append(records, qr.Records...)

		path = ""
		if !qr.Done && qr.NextRecordsURL != "" {
			path = qr.NextRecordsURL
		}
	}
	return records, nil
}

// Post sends body as JSON to path (relative to the data root).
func (s *Service) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	status, payload, err := s.fwd.Forward(ctx, http.MethodPost, s.DataRoot()+"/"+strings.TrimLeft(path, "/"), raw)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		_, msg := ExtractError(payload, "Command failed")
		return nil, &CommandError{Status: status, Message: msg}
	}
	return payload, nil
}

// Delete removes the resource at path (relative to the data root).
func (s *Service) Delete(ctx context.Context, path string) error {
	status, payload, err := s.fwd.Forward(ctx, http.MethodDelete, s.DataRoot()+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		_, msg := ExtractError(payload, "Delete failed")
		return &CommandError{Status: status, Message: msg}
	}
	return nil
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// ExtractError pulls a human-readable message out of an error payload. The
// array form ([{"message": ...}]) wins over the object form.
func ExtractError(payload []byte, fallback string) (code, message string) {
	var list []apiError
	if err := json.Unmarshal(payload, &list); err == nil && len(list) > 0 && list[0].Message != "" {
		return list[0].ErrorCode, list[0].Message
	}
	var obj apiError
	if err := json.Unmarshal(payload, &obj); err == nil {
		if obj.Message != "" {
			return obj.ErrorCode, obj.Message
		}
		if obj.Error != "" {
			return obj.ErrorCode, obj.Error
		}
	}
	return "", fallback
}

// All runs soql and decodes every record into T.
func All[T any](ctx context.Context, r Runner, soql string) ([]T, error) {
	raw, err := r.Run(ctx, soql)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, rec := range raw {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// First runs soql and decodes the first record, or returns nil when the
// query matched nothing.
func First[T any](ctx context.Context, r Runner, soql string) (*T, error) {
	raw, err := r.Run(ctx, soql)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw[0], &v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &v, nil
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Quote renders s as a SOQL string literal.
func Quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}

// QuoteList renders ids as a parenthesised SOQL IN list.
func QuoteList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = Quote(id)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
