package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultRESTTimeout = 15 * time.Second

// RESTBackend implements Backend against a PostgREST-compatible API
// (Supabase style: /rest/v1/<table>, apikey + bearer headers).
type RESTBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RESTOption configures a RESTBackend.
type RESTOption func(*RESTBackend)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(b *RESTBackend) { b.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) RESTOption {
	return func(b *RESTBackend) { b.httpClient.Timeout = d }
}

// NewRESTBackend creates a client for the project at baseURL.
func NewRESTBackend(baseURL, apiKey string, opts ...RESTOption) *RESTBackend {
	b := &RESTBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRESTTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *RESTBackend) tableURL(collection string, params url.Values) string {
	u := b.baseURL + "/rest/v1/" + url.PathEscape(collection)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (b *RESTBackend) Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("select", "*")
	for _, f := range q.Filters {
		params.Add(f.Field, "eq."+f.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, err := b.do(ctx, http.MethodGet, b.tableURL(collection, params), nil)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	return rows, nil
}

func (b *RESTBackend) Insert(ctx context.Context, collection string, row json.RawMessage) (json.RawMessage, error) {
	body, err := b.do(ctx, http.MethodPost, b.tableURL(collection, nil), row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: empty representation", collection)
	}
	return rows[0], nil
}

func (b *RESTBackend) Update(ctx context.Context, collection, id string, row json.RawMessage) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("id", "eq."+id)
	body, err := b.do(ctx, http.MethodPatch, b.tableURL(collection, params), row)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return rows[0], nil
}

func (b *RESTBackend) Delete(ctx context.Context, collection, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	if _, err := b.do(ctx, http.MethodDelete, b.tableURL(collection, params), nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping issues a lightweight request against the REST root. Any response
// below 500 means the backend is reachable.
func (b *RESTBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	b.authorize(req)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping: status %d", resp.StatusCode)
	}
	return nil
}

func (b *RESTBackend) authorize(req *http.Request) {
	if b.apiKey == "" {
		return
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
}

func (b *RESTBackend) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	b.authorize(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// postgrestError is the error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyStatus maps HTTP status codes onto the permanent error classes.
// 5xx and unexpected codes stay transient.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var pe postgrestError
	_ = json.Unmarshal(body, &pe)
	detail := pe.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusConflict || pe.Code == "23505":
		return fmt.Errorf("%w: %s", ErrConflict, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, detail)
	default:
		return fmt.Errorf("status %d: %s", status, detail)
	}
}

// decodeRows parses a JSON array (or single object) of rows and normalises
// numeric ids to strings.
func decodeRows(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '{' {
		body = append(append([]byte{'['}, body...), ']')
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}

	out := make([]json.RawMessage, 0, len(raw))
	for _, row := range raw {
		if id, ok := row["id"].(json.Number); ok {
			row["id"] = id.String()
		}
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}
