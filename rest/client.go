// Copyright 2026 The Poolvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/net/context"

	"github.com/poolvisor/poolvisor"
)

// Client is a typed consumer of the operator API.  It caches the pool
// etag so that Watch can long-poll for changes.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	etag string
	lock sync.Mutex
}

func NewClient(client *http.Client, base string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{client: client, base: base}
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(parts ...string) string {
	u := c.base
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *Client) roundTrip(ctx context.Context, method, u string, body, v interface{}, etag string) (string, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	if rd != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotModified:
		return etag, nil
	case res.StatusCode != http.StatusOK:
		e := &Error{}
		if json.NewDecoder(res.Body).Decode(e) != nil || e.Code == 0 {
			e = &Error{res.StatusCode, res.Status}
		}
		return "", e
	}
	if v != nil {
		if err := json.NewDecoder(res.Body).Decode(v); err != nil {
			return "", err
		}
	}
	return res.Header.Get("Etag"), nil
}

// PoolInfo fetches pool health.
func (c *Client) PoolInfo(ctx context.Context) (*poolvisor.PoolInfo, error) {
	info := &poolvisor.PoolInfo{}
	etag, err := c.roundTrip(ctx, "GET", c.url("pool"), nil, info, "")
	if err != nil {
		return nil, err
	}
	c.lock.Lock()
	c.etag = etag
	c.lock.Unlock()
	return info, nil
}

// Watch long-polls for a pool change, for up to the given number of
// seconds, and returns the fresh info, or nil if nothing changed.
func (c *Client) Watch(ctx context.Context, secs int) (*poolvisor.PoolInfo, error) {
	c.lock.Lock()
	etag := c.etag
	c.lock.Unlock()
	if etag == "" {
		return c.PoolInfo(ctx)
	}
	info := &poolvisor.PoolInfo{}
	u := c.url("pool") + "?poll=" + strconv.Itoa(secs)
	newTag, err := c.roundTrip(ctx, "GET", u, nil, info, etag)
	if err != nil {
		return nil, err
	}
	if newTag == etag {
		return nil, nil
	}
	c.lock.Lock()
	c.etag = newTag
	c.lock.Unlock()
	return info, nil
}

// Workers lists worker ids.
func (c *Client) Workers(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := c.roundTrip(ctx, "GET", c.url("workers"), nil, &ids, ""); err != nil {
		return nil, err
	}
	return ids, nil
}

// Worker fetches one worker snapshot.
func (c *Client) Worker(ctx context.Context, id string) (*poolvisor.WorkerInfo, error) {
	info := &poolvisor.WorkerInfo{}
	if _, err := c.roundTrip(ctx, "GET", c.url("workers", id), nil, info, ""); err != nil {
		return nil, err
	}
	return info, nil
}

// Replace requests a make-before-break replacement of one worker.
func (c *Client) Replace(ctx context.Context, id string) error {
	_, err := c.roundTrip(ctx, "POST", c.url("workers", id, "replace"), nil, nil, "")
	return err
}

// RollingRestart requests replacement of every serving worker.
func (c *Client) RollingRestart(ctx context.Context) error {
	_, err := c.roundTrip(ctx, "POST", c.url("pool", "restart"), nil, nil, "")
	return err
}

// SetPoolSize reconfigures N.
func (c *Client) SetPoolSize(ctx context.Context, n int) error {
	_, err := c.roundTrip(ctx, "PUT", c.url("pool", "size"), &SizeRequest{Size: n}, nil, "")
	return err
}

// SetResourceLimit reconfigures the usage budget in bytes.
func (c *Client) SetResourceLimit(ctx context.Context, limit uint64) error {
	_, err := c.roundTrip(ctx, "PUT", c.url("pool", "limit"), &LimitRequest{Limit: limit}, nil, "")
	return err
}

// Log fetches retained event log records.
func (c *Client) Log(ctx context.Context) ([]poolvisor.LogRecord, error) {
	var recs []poolvisor.LogRecord
	if _, err := c.roundTrip(ctx, "GET", c.url("log"), nil, &recs, ""); err != nil {
		return nil, err
	}
	return recs, nil
}
