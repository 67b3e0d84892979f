//go:build linux || darwin || freebsd || netbsd || openbsd

package cli

import (
	"bufio"
	"compress/zlib"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netreactor/client"
	"github.com/cyberinferno/netreactor/config"
	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/ftp"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/message"
	"github.com/cyberinferno/netreactor/transport"
	"github.com/cyberinferno/netreactor/web"
)

// start builds and serves cfg on an ephemeral port until the test ends.
func start(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	require.NoError(t, cfg.Validate())

	app, err := Build(context.Background(), cfg, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		assert.NoError(t, app.Close())
	})

	return app
}

type lineConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialLines(t *testing.T, app *App) *lineConn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", app.Server.Listener.Addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	return &lineConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineConn) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *lineConn) expect(reply string) {
	c.t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	assert.Equal(c.t, reply, strings.TrimRight(line, "\r\n"))
}

func (c *lineConn) expectEOF() {
	c.t.Helper()
	_, err := c.r.ReadByte()
	assert.ErrorIs(c.t, err, io.EOF)
}

func pollers() []string {
	kinds := []string{"poll"}
	if runtime.GOOS == "linux" {
		kinds = append(kinds, "epoll")
	}
	return kinds
}

func TestFTPSession(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	for _, kind := range pollers() {
		t.Run(kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Poller = kind
			app := start(t, cfg)

			c := dialLines(t, app)
			c.send("USER bob")
			c.expect("331 Username OK, need password")
			c.send("PASS x")
			c.expect("230 User logged in")
			c.send("PWD")
			c.expect(`257 "` + wd + `"`)
			c.send("LIST")
			c.expect("502 Command not implemented")
			c.send("QUIT")
			c.expect("221 Goodbye")
			c.expectEOF()

			assert.Eventually(t, func() bool { return app.Metrics.ActiveConnections() == 0 },
				2*time.Second, 5*time.Millisecond)
		})
	}
}

func TestFTPSession_redisContextKeys(t *testing.T) {
	addr := os.Getenv("NETREACTOR_TEST_REDIS")
	if addr == "" {
		t.Skip("NETREACTOR_TEST_REDIS not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	key := contextNamespace + ftp.ProcessScope() + "/bob"
	require.NoError(t, rdb.Del(context.Background(), key).Err())
	t.Cleanup(func() { _ = rdb.Del(context.Background(), key).Err() })

	cfg := config.Default()
	cfg.RedisAddr = addr
	app := start(t, cfg)

	c := dialLines(t, app)
	c.send("USER bob")
	c.expect("331 Username OK, need password")
	c.send("PASS x")
	c.expect("230 User logged in")
	c.send("PWD")
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "257 "), line)

	n, err := rdb.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expected key %s", key)
}

func TestFTPSession_concurrentClients(t *testing.T) {
	app := start(t, config.Default())

	a := dialLines(t, app)
	b := dialLines(t, app)

	// Interleave partial lines from both clients.
	_, err := a.conn.Write([]byte("US"))
	require.NoError(t, err)
	_, err = b.conn.Write([]byte("USER al"))
	require.NoError(t, err)
	_, err = a.conn.Write([]byte("ER bob\r\n"))
	require.NoError(t, err)
	a.expect("331 Username OK, need password")
	_, err = b.conn.Write([]byte("ice\r\nPASS y\r\n"))
	require.NoError(t, err)
	b.expect("331 Username OK, need password")
	b.expect("230 User logged in")

	a.send("PWD")
	a.expect("530 Not logged in")
	a.send("QUIT")
	a.expect("221 Goodbye")

	b.send("NOOP")
	b.expect("200 NOOP ok")
}

func TestFTPSession_compressed(t *testing.T) {
	cfg := config.Default()
	cfg.Compress = true
	cfg.Banner = "220 netreactor ready"
	app := start(t, cfg)

	ccfg := client.DefaultConfig(app.Server.Listener.Addr())
	ccfg.Codec = frame.NewLineEnvelopeCodec(frame.DefaultMaxFrame)
	c := client.New(ccfg)
	defer c.Close()

	replies := make(chan string, 8)
	c.OnFrame(func(e client.FrameEvent) { replies <- string(e.Frame) })
	require.NoError(t, c.Connect(context.Background()))

	next := func() string {
		select {
		case r := <-replies:
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("no reply")
			return ""
		}
	}

	assert.Equal(t, "220 netreactor ready", next())
	require.NoError(t, c.Send([]byte("USER bob")))
	assert.Equal(t, "331 Username OK, need password", next())
	require.NoError(t, c.Send([]byte("QUIT")))
	assert.Equal(t, "221 Goodbye", next())
}

func TestMailSession(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol = config.ProtocolMail
	cfg.Banner = "220 mail ready"
	app := start(t, cfg)

	c := dialLines(t, app)
	c.expect("220 mail ready")
	c.send("DATA")
	c.expect("503 Bad sequence of commands")
	c.send("EHLO client.example")
	c.expect("250 Hello")
	c.send("MAIL FROM:<alice@example.com>")
	c.expect("250 OK")
	c.send("RCPT TO:<bob@example.com>")
	c.expect("250 OK")
	c.send("DATA")
	c.expect("354 End data with <CR><LF>.<CR><LF>")
	c.send("Subject: hi")
	c.send("")
	c.send("..leading dot")
	c.send(".")
	c.expect("250 OK: message accepted for delivery")
	c.send("QUIT")
	c.expect("221 Bye")
	c.expectEOF()

	require.Eventually(t, func() bool { return len(app.History.Recent("alice@example.com")) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Subject: hi\r\n\r\n.leading dot", app.History.Recent("alice@example.com")[0].Text)
}

func TestRelay(t *testing.T) {
	for _, name := range []string{"json", "cbor", "xml"} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Protocol = config.ProtocolRelay
			cfg.Serializer = name
			app := start(t, cfg)

			s, err := message.SerializerByName(name)
			require.NoError(t, err)
			codec := message.NewCodec(s, frame.DefaultMaxFrame)

			sent := message.New("bob", "hello over "+name, time.Now())
			require.NoError(t, Send(context.Background(), app.Server.Listener.Addr(), codec, sent, 2*time.Second))

			require.Eventually(t, func() bool { return len(app.History.Recent("bob")) == 1 },
				2*time.Second, 5*time.Millisecond)
			assert.Equal(t, sent, app.History.Recent("bob")[0])
		})
	}
}

func TestRelay_largeMessageWithDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol = config.ProtocolRelay
	app := start(t, cfg)

	noise := make([]byte, 1<<20)
	_, err := rand.Read(noise)
	require.NoError(t, err)

	codec := message.NewCodec(message.JSONSerializer{}, cfg.MaxFrame)
	sent := message.New("dave", hex.EncodeToString(noise), time.Now())
	wire, err := codec.Encode(sent)
	require.NoError(t, err)
	require.Greater(t, len(wire), 1<<20)

	require.NoError(t, Send(context.Background(), app.Server.Listener.Addr(), codec, sent, 5*time.Second))

	require.Eventually(t, func() bool { return len(app.History.Recent("dave")) == 1 },
		5*time.Second, 5*time.Millisecond)
	assert.Equal(t, sent.Text, app.History.Recent("dave")[0].Text)
	assert.Zero(t, app.Metrics.ErrorCount())
}

func TestRelay_corruptEnvelopeDropsOnlyThatConnection(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol = config.ProtocolRelay
	app := start(t, cfg)
	addr := app.Server.Listener.Addr()

	healthy, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer healthy.Close()

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()

	garbage := make([]byte, frame.HeaderSize+4)
	binary.LittleEndian.PutUint32(garbage, 4)
	copy(garbage[frame.HeaderSize:], "junk")
	_, err = bad.Write(garbage)
	require.NoError(t, err)

	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = bad.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, io.EOF) || isReset(err), "got %v", err)

	codec := message.NewCodec(message.JSONSerializer{}, frame.DefaultMaxFrame)
	wire, err := codec.Encode(message.New("carol", "still here", time.Now()))
	require.NoError(t, err)
	_, err = healthy.Write(wire)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(app.History.Recent("carol")) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), app.Metrics.ErrorCount())
}

func isReset(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && strings.Contains(op.Err.Error(), "reset")
}

func TestHTTPSession(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol = config.ProtocolHTTP
	app := start(t, cfg)
	base := "http://" + app.Server.Listener.Addr()

	get := func(path string) (int, web.Body) {
		t.Helper()

		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.True(t, resp.Close)
		assert.Equal(t, "deflate", resp.Header.Get("Content-Encoding"))

		zr, err := zlib.NewReader(resp.Body)
		require.NoError(t, err)
		var body web.Body
		require.NoError(t, json.NewDecoder(zr).Decode(&body))
		return resp.StatusCode, body
	}

	status, body := get("/index.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, web.Body{Status: 200, Message: "Hello world!"}, body)

	status, body = get("/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "404 Not found", body.Message)

	assert.Eventually(t, func() bool { return app.Metrics.ActiveConnections() == 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Zero(t, app.Metrics.ErrorCount())
}

func TestBuild_bindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	_, port, err := net.SplitHostPort(taken.Addr().String())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, logger.NewNopLogger())
	var bindErr *transport.BindError
	assert.True(t, errors.As(err, &bindErr), "got %v", err)
}
