// Package webcache persists GET responses between runs.
//
// A bbolt-backed [Transport] sits outside the rate limiter in the transport
// chain, so a cache hit spends no request budget. Only 200 responses to GET
// requests are stored, each with a write timestamp checked against the
// configured TTL on read. Mutating code invalidates affected URL prefixes so
// reconciliation never acts on responses it has itself made stale.
package webcache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/shared"
	"go.etcd.io/bbolt"
)

// FreshHeader marks a request that must bypass the cache and hit the remote.
// The transport strips it before forwarding; a fresh response still refreshes
// the stored entry.
const FreshHeader = "X-Spx-Fresh"

var bucketName = []byte("responses")

type storedResponse struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *storedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		Header:        r.Header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Cache is a TTL-bounded response store keyed by full request URL.
type Cache struct {
	db     *bbolt.DB
	ttl    time.Duration
	logger *log.Logger
}

// Open creates or opens the cache database at path.
func Open(path string, ttl time.Duration, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open response cache: %w", err)
	}

	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) fetch(u *url.URL) *storedResponse {
	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if d := b.Get([]byte(u.String())); d != nil {
			raw = append([]byte(nil), d...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil
	}

	var r storedResponse
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&r); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "url", u.String(), "err", err)
		c.Invalidate(u.String())
		return nil
	}
	return &r
}

func (c *Cache) save(u *url.URL, status string, statusCode int, header http.Header, body []byte) *storedResponse {
	r := &storedResponse{
		UpdatedAt:  time.Now(),
		URL:        u.String(),
		Status:     status,
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
	}

	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(r); err != nil {
		c.logger.Warn("failed to encode response for cache", "url", u.String(), "err", err)
		return r
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.String()), buf.Bytes())
	})
	if err != nil {
		c.logger.Warn("failed to store response in cache", "url", u.String(), "err", err)
	}
	return r
}

// Invalidate removes every entry whose URL starts with prefix.
func (c *Cache) Invalidate(prefix string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		cur := b.Cursor()
		p := []byte(prefix)
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear drops every cached response.
func (c *Cache) Clear() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName)
	})
}

// Len reports how many responses are stored.
func (c *Cache) Len() (int, error) {
	count := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// Transport serves GET requests from the cache when a fresh-enough entry
// exists, forwarding everything else to next.
type Transport struct {
	next  http.RoundTripper
	cache *Cache
}

// NewTransport wraps next with the cache. A nil cache disables caching
// entirely; a nil next uses [http.DefaultTransport].
func NewTransport(next http.RoundTripper, cache *Cache) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, cache: cache}
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.cache == nil || req.Method != http.MethodGet {
		return t.next.RoundTrip(req)
	}

	if req.Header.Get(FreshHeader) != "" {
		out := req.Clone(req.Context())
		out.Header.Del(FreshHeader)
		return t.forward(out)
	}

	if r := t.cache.fetch(req.URL); r != nil && time.Since(r.UpdatedAt) < t.cache.ttl {
		return r.response(req), nil
	}

	return t.forward(req)
}

// forward hits the remote and stores a 200 response before replaying it to
// the caller.
func (t *Transport) forward(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	stored := t.cache.save(req.URL, resp.Status, resp.StatusCode, resp.Header, body)
	return stored.response(req), nil
}
