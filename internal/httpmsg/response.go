package httpmsg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUpgrade is returned for a 101 Switching Protocols response, which a
// tunnel connection cannot hand over.
var ErrUpgrade = errors.New("unexpected 101 Switching Protocols")

// ReadResponse reads the response to req from br. Interim 1xx responses are
// skipped. The body is read completely so br is left at the start of the next
// message; the returned Body reads from memory.
func ReadResponse(ctx context.Context, br *bufio.Reader, req *http.Request) (*http.Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := http.ReadResponse(br, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusSwitchingProtocols {
			_ = resp.Body.Close()
			return nil, ErrUpgrade
		}
		if resp.StatusCode >= 100 && resp.StatusCode < 200 {
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		resp.Body = io.NopCloser(bytes.NewReader(body))
		if resp.ContentLength < 0 {
			resp.ContentLength = int64(len(body))
		}
		resp.TransferEncoding = nil
		return resp, nil
	}
}
