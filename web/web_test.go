package web

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netreactor/reactor"
)

// parse reads payload back as an HTTP response and inflates its body.
func parse(t *testing.T, payload []byte) (*http.Response, Body) {
	t.Helper()

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(payload)), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(len(raw)), resp.Header.Get("Content-Length"))

	zr, err := zlib.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	doc, err := io.ReadAll(zr)
	require.NoError(t, err)

	var body Body
	require.NoError(t, json.Unmarshal(doc, &body))
	return resp, body
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil)
	rec := &reactor.Record{ID: 1}

	greeting, err := d.Open(ctx, rec)
	require.NoError(t, err)
	assert.Nil(t, greeting)

	tests := []struct {
		name    string
		head    string
		status  int
		message string
	}{
		{"index page", "GET /index.html HTTP/1.1\r\nHost: localhost", 200, "Hello world!"},
		{"relative index page", "GET index.html HTTP/1.0", 200, "Hello world!"},
		{"query strings are ignored", "GET /index.html?x=1 HTTP/1.1", 200, "Hello world!"},
		{"unknown page", "GET /missing.html HTTP/1.1", 404, "404 Not found"},
		{"root is not a page", "GET / HTTP/1.1", 404, "404 Not found"},
		{"parent traversal", "GET /../etc/passwd HTTP/1.1", 403, "403 Forbidden"},
		{"other methods", "POST /index.html HTTP/1.1\r\nContent-Length: 0", 405, "405 Method Not Allowed"},
		{"malformed request line", "hello", 400, "400 Bad Request"},
		{"missing protocol", "GET /index.html FTP/1.0", 400, "400 Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.Dispatch(ctx, rec, []byte(tt.head))
			require.NoError(t, err)
			assert.True(t, out.Close, "every response closes the connection")

			resp, body := parse(t, out.Payload)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "deflate", resp.Header.Get("Content-Encoding"))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.True(t, resp.Close)
			assert.Equal(t, Body{Status: tt.status, Message: tt.message}, body)
		})
	}

	t.Run("405 names the allowed method", func(t *testing.T) {
		out, err := d.Dispatch(ctx, rec, []byte("DELETE /index.html HTTP/1.1"))
		require.NoError(t, err)
		resp, _ := parse(t, out.Payload)
		assert.Equal(t, "GET", resp.Header.Get("Allow"))
	})

	t.Run("custom pages", func(t *testing.T) {
		custom := &Dispatcher{Pages: map[string]string{"/health": "up"}, Log: d.Log}
		out, err := custom.Dispatch(ctx, rec, []byte("GET /health HTTP/1.1"))
		require.NoError(t, err)
		_, body := parse(t, out.Payload)
		assert.Equal(t, "up", body.Message)
	})
}

func TestReason(t *testing.T) {
	assert.Equal(t, "OK", Reason(200))
	assert.Equal(t, "Forbidden", Reason(403))
	assert.Equal(t, "Internal Server Error", Reason(500))
	assert.Equal(t, "Unknown", Reason(299))
}
