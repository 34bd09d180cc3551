package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON marshals body, POSTs it to url with the given headers, and
// returns the raw response for the caller to decode. Non-2xx responses are
// converted to a classified *Error and the body is closed before
// returning, mirroring the doProviderRequest split between transport and
// decoding this package's HTTP plumbing follows.
func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(ErrInvalidRequest, 0, fmt.Sprintf("marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrUnknown, 0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(ErrNetwork, 0, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, httpError(resp.StatusCode, raw)
	}

	return resp, nil
}

// vendorErrorBody is the common {"error":{"type","message"}} shape shared
// by Anthropic, OpenAI, and OpenAI-compatible vendors.
type vendorErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func httpError(status int, raw []byte) *Error {
	var body vendorErrorBody
	message := string(raw)
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		message = body.Error.Message
	}
	kind := classifyHTTPStatus(status)
	return newError(kind, status, message)
}

func decodeJSON[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError(ErrUnknown, 0, fmt.Sprintf("decode response: %v", err))
	}
	return &out, nil
}
