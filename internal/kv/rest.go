// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every REST call. Cache traffic must fail fast and
// degrade to a miss rather than hold up the request path.
const DefaultTimeout = 2 * time.Second

// RESTClient speaks the hosted KV store's HTTP API:
//
//	GET  /get/{key}          -> {"key": ..., "value": string|null}
//	POST /set  {key,value,ttl_seconds} -> {"ok": bool}
//	POST /del  {key}                   -> {"ok": bool}
//
// Requests carry a bearer token.
type RESTClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Store = (*RESTClient)(nil)

type RESTOption func(*RESTClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *RESTClient) { r.client = c }
}

// NewRESTClient creates a client for the store at baseURL.
func NewRESTClient(baseURL, token string, opts ...RESTOption) *RESTClient {
	r := &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type getResponse struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

type setRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type delRequest struct {
	Key string `json:"key"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (r *RESTClient) Get(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/get/"+url.PathEscape(key), nil)
	if err != nil {
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	body, err := r.do(req)
	if err != nil {
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	var resp getResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kv get %s: decode: %w", key, err)
	}
	if resp.Value == nil {
		return "", ErrNotFound
	}
	return *resp.Value, nil
}

func (r *RESTClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	if err := r.post(ctx, "/set", setRequest{Key: key, Value: value, TTLSeconds: ttlSeconds}); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (r *RESTClient) Delete(ctx context.Context, key string) error {
	if err := r.post(ctx, "/del", delRequest{Key: key}); err != nil {
		return fmt.Errorf("kv del %s: %w", key, err)
	}
	return nil
}

func (r *RESTClient) post(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := r.do(req)
	if err != nil {
		return err
	}
	var resp okResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("store rejected request")
	}
	return nil
}

func (r *RESTClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+r.token)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
