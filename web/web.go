// Package web serves a one-shot HTTP/1.1 endpoint. Every request head gets one
// response carrying a zlib-compressed JSON status body, then the connection is
// closed.
package web

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/reactor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Body is the JSON document sent with every response.
type Body struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

var reasons = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
}

// Reason returns the reason phrase of a status code.
func Reason(status int) string {
	if r, ok := reasons[status]; ok {
		return r
	}
	return "Unknown"
}

// DefaultPages maps the served paths to their messages.
func DefaultPages() map[string]string {
	return map[string]string{"/index.html": "Hello world!"}
}

// Dispatcher answers GET requests for Pages. Any other path is a 404, paths
// climbing out with ".." are a 403 and other methods a 405.
type Dispatcher struct {
	Pages map[string]string
	Log   logger.Logger
}

// NewDispatcher returns a dispatcher serving DefaultPages.
func NewDispatcher(log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Dispatcher{Pages: DefaultPages(), Log: log}
}

// Open implements reactor.Dispatcher. Clients speak first.
func (d *Dispatcher) Open(context.Context, *reactor.Record) ([]byte, error) {
	return nil, nil
}

// Dispatch answers one request head and asks the reactor to close once the
// response is written.
func (d *Dispatcher) Dispatch(_ context.Context, rec *reactor.Record, head []byte) (reactor.Response, error) {
	method, path, status, message := d.route(string(head))

	d.Log.Debug("http request",
		logger.F("conn_id", rec.ID),
		logger.F("method", method),
		logger.F("path", path),
		logger.F("status", status))

	resp, err := Respond(status, message)
	if err != nil {
		if resp, err = Respond(500, "500 Internal Server Error"); err != nil {
			return reactor.Response{}, err
		}
	}
	return reactor.Response{Payload: resp, Close: true}, nil
}

func (d *Dispatcher) route(head string) (method, path string, status int, message string) {
	requestLine, _, _ := strings.Cut(head, "\r\n")
	parts := strings.Fields(requestLine)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return "", "", 400, "400 Bad Request"
	}

	method, path = parts[0], parts[1]
	if method != "GET" {
		return method, path, 405, "405 Method Not Allowed"
	}

	page, _, _ := strings.Cut(path, "?")
	if !strings.HasPrefix(page, "/") {
		page = "/" + page
	}
	if strings.Contains(page, "..") {
		return method, path, 403, "403 Forbidden"
	}

	if msg, ok := d.Pages[page]; ok {
		return method, path, 200, msg
	}
	return method, path, 404, "404 Not found"
}

// Respond builds a complete response whose body is zlib(JSON(Body)).
func Respond(status int, message string) ([]byte, error) {
	doc, err := json.Marshal(Body{Status: status, Message: message})
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	body, err := frame.Deflate(doc)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, Reason(status))
	b.WriteString("Content-Type: application/json\r\n")
	b.WriteString("Content-Encoding: deflate\r\n")
	if status == 405 {
		b.WriteString("Allow: GET\r\n")
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)

	return []byte(b.String()), nil
}
