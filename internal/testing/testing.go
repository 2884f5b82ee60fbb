// package testing contains shared testing utilities
package testing

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// SeqRoundTripper returns scripted responses in queue order and records every
// request (and its body) it sees. Safe for concurrent use.
type SeqRoundTripper struct {
	mu        sync.Mutex
	responses []*http.Response
	errs      []error

	Requests []*http.Request
	Bodies   []string
}

func NewSeqRoundTripper() *SeqRoundTripper {
	return &SeqRoundTripper{}
}

// Queue appends a scripted result. Exactly one of resp/err is consumed per request.
func (s *SeqRoundTripper) Queue(resp *http.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, err)
}

func (s *SeqRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(raw)
	}
	s.Requests = append(s.Requests, req)
	s.Bodies = append(s.Bodies, body)

	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response for %s %s", req.Method, req.URL)
	}

	resp, err := s.responses[0], s.errs[0]
	s.responses = s.responses[1:]
	s.errs = s.errs[1:]
	return resp, err
}

// Calls reports how many requests have been made.
func (s *SeqRoundTripper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// Response builds a minimal [http.Response] for scripting.
func Response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// JSONResponse builds a 200 response carrying a JSON body.
func JSONResponse(body string) *http.Response {
	resp := Response(http.StatusOK, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}
