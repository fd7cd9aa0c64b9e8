package evalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matt-riley/flagbind"
)

// APIError is returned when the flag service responds with an HTTP error
// status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evalclient: HTTP %d: %s", e.StatusCode, e.Message)
}

// permanent reports whether retrying the request cannot succeed.
func (e *APIError) permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

func isPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.permanent()
}

// -- wire types --------------------------------------------------------------

type wireFlag struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

type wireContext struct {
	Attributes map[string]any `json:"attributes,omitempty"`
}

type wireEvaluateReq struct {
	Key          string            `json:"key,omitempty"`
	Context      *wireContext      `json:"context,omitempty"`
	DefaultValue bool              `json:"default_value"`
	Requests     []wireEvalReqItem `json:"requests,omitempty"`
}

type wireEvalReqItem struct {
	Key          string      `json:"key"`
	Context      wireContext `json:"context"`
	DefaultValue bool        `json:"default_value"`
}

type wireEvaluateResp struct {
	Results []struct {
		Key   string `json:"key"`
		Value bool   `json:"value"`
	} `json:"results"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("evalclient: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("evalclient: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evalclient: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// contextAttributes flattens an evaluation context into the attribute map
// the flag service matches rules against.
func contextAttributes(evalCtx flagbind.EvalContext) wireContext {
	attrs := make(map[string]any, len(evalCtx.Attributes)+3)
	for k, v := range evalCtx.Attributes {
		attrs[k] = v
	}
	attrs["key"] = evalCtx.Key
	attrs["kind"] = evalCtx.Kind
	if evalCtx.Anonymous {
		attrs["anonymous"] = true
	}
	return wireContext{Attributes: attrs}
}

// defaultBool maps an arbitrary default to the boolean the service accepts.
func defaultBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func (c *Client) listFlagKeys(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/flags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Flags []wireFlag `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("evalclient: decode response: %w", err)
	}
	keys := make([]string, 0, len(out.Flags))
	for _, f := range out.Flags {
		if f.Key != "" {
			keys = append(keys, f.Key)
		}
	}
	return keys, nil
}

func (c *Client) evaluateBatch(ctx context.Context, keys []string) (flagbind.FlagSet, error) {
	flags := make(flagbind.FlagSet, len(keys))
	if len(keys) == 0 {
		return flags, nil
	}

	wctx := contextAttributes(c.evalCtx)
	items := make([]wireEvalReqItem, len(keys))
	for i, key := range keys {
		items[i] = wireEvalReqItem{Key: key, Context: wctx}
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/evaluate", wireEvaluateReq{Requests: items})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out wireEvaluateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("evalclient: decode response: %w", err)
	}
	for _, r := range out.Results {
		flags[r.Key] = r.Value
	}
	return flags, nil
}

func (c *Client) evaluate(ctx context.Context, key string, defaultValue bool) (bool, error) {
	wctx := contextAttributes(c.evalCtx)
	body := wireEvaluateReq{
		Key:          key,
		Context:      &wctx,
		DefaultValue: defaultValue,
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/evaluate", body)
	if err != nil {
		return defaultValue, err
	}
	defer resp.Body.Close()
	var out wireEvaluateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return defaultValue, fmt.Errorf("evalclient: decode response: %w", err)
	}
	for _, r := range out.Results {
		if r.Key == key {
			return r.Value, nil
		}
	}
	return defaultValue, nil
}
