package httpmsg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var requestBuffers = newBufferPool(4096)

// EnsureContentLength gives requests whose method carries a payload explicit
// framing, as RFC 7230 section 3.3.2 asks of user agents.
//
// For POST, PUT and PATCH requests that are not chunked: a missing body
// becomes an empty one with Content-Length 0, and a body of unknown length is
// read into memory so its length can be declared. GetBody is set in both
// cases so the request can be replayed.
func EnsureContentLength(req *http.Request) error {
	if !hasPayload(req.Method) || isChunked(req) {
		return nil
	}

	if req.Body == nil || req.Body == http.NoBody {
		req.Body = http.NoBody
		req.ContentLength = 0
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return nil
	}

	if req.ContentLength > 0 {
		return nil
	}

	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	req.ContentLength = int64(len(b))
	if len(b) == 0 {
		req.Body = http.NoBody
	} else {
		req.Body = io.NopCloser(bytes.NewReader(b))
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil
}

// Marshal serializes req in HTTP/1.1 origin form. The returned buffer should
// be handed back with Release once written.
func Marshal(ctx context.Context, req *http.Request) (*bytes.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := requestBuffers.Get()
	if err := req.Write(buf); err != nil {
		requestBuffers.Put(buf)
		return nil, fmt.Errorf("serialize request: %w", err)
	}
	return buf, nil
}

// Release returns a buffer obtained from Marshal.
func Release(buf *bytes.Buffer) {
	requestBuffers.Put(buf)
}

func hasPayload(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isChunked(req *http.Request) bool {
	for _, te := range req.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	for _, v := range req.Header.Values("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}
