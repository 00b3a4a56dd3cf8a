package httpmsg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func newRequest(t *testing.T, method string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, "http://example.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		wire       string
		wantStatus int
		wantBody   string
		wantLength int64
	}{
		{
			name:       "content length",
			method:     http.MethodGet,
			wire:       "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi",
			wantStatus: 200,
			wantBody:   "hi",
			wantLength: 2,
		},
		{
			name:       "chunked",
			method:     http.MethodGet,
			wire:       "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
			wantStatus: 200,
			wantBody:   "hello",
			wantLength: 5,
		},
		{
			name:       "interim continue skipped",
			method:     http.MethodPost,
			wire:       "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n",
			wantStatus: 201,
			wantLength: 0,
		},
		{
			name:       "head keeps declared length",
			method:     http.MethodHead,
			wire:       "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n",
			wantStatus: 200,
			wantLength: 10,
		},
		{
			name:       "read until close",
			method:     http.MethodGet,
			wire:       "HTTP/1.0 200 OK\r\n\r\nuntil eof",
			wantStatus: 200,
			wantBody:   "until eof",
			wantLength: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := bufio.NewReader(strings.NewReader(tt.wire))
			resp, err := ReadResponse(context.Background(), br, newRequest(t, tt.method))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.ContentLength != tt.wantLength {
				t.Fatalf("ContentLength=%d want %d", resp.ContentLength, tt.wantLength)
			}
			if got := readBody(t, resp); got != tt.wantBody {
				t.Fatalf("body=%q want %q", got, tt.wantBody)
			}
		})
	}
}

func TestReadResponseLeavesNextMessage(t *testing.T) {
	wire := "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\none" +
		"HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\ntwo"
	br := bufio.NewReader(strings.NewReader(wire))

	for _, want := range []string{"one", "two"} {
		resp, err := ReadResponse(context.Background(), br, newRequest(t, http.MethodGet))
		if err != nil {
			t.Fatal(err)
		}
		if got := readBody(t, resp); got != want {
			t.Fatalf("body=%q want %q", got, want)
		}
	}
}

func TestReadResponseErrors(t *testing.T) {
	t.Run("truncated body", func(t *testing.T) {
		br := bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"))
		_, err := ReadResponse(context.Background(), br, newRequest(t, http.MethodGet))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		br := bufio.NewReader(strings.NewReader(""))
		_, err := ReadResponse(context.Background(), br, newRequest(t, http.MethodGet))
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
	})

	t.Run("upgrade", func(t *testing.T) {
		br := bufio.NewReader(strings.NewReader("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n"))
		_, err := ReadResponse(context.Background(), br, newRequest(t, http.MethodGet))
		if !errors.Is(err, ErrUpgrade) {
			t.Fatalf("expected ErrUpgrade, got %v", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		br := bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		_, err := ReadResponse(ctx, br, newRequest(t, http.MethodGet))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
