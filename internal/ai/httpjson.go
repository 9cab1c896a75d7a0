package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends body as JSON and decodes a 2xx reply into out. Non-2xx
// replies are mapped with classifyStatus.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &APIError{Provider: provider, Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &ConfigurationError{Provider: provider, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &APIError{Provider: provider, Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(provider, resp.StatusCode, resp.Header, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Msg: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
