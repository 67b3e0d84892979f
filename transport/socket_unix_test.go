//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptEventually retries a non-blocking accept until a connection shows up.
func acceptEventually(t *testing.T, l *SocketListener) Conn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := l.Accept()
		if err == nil {
			return c
		}
		require.ErrorIs(t, err, ErrWouldBlock)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func readEventually(t *testing.T, c Conn, p []byte) ReadResult {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res := c.Read(p)
		if res.Kind != ReadWouldBlock {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("read never completed")
	return ReadResult{}
}

func TestListen_ephemeralPort(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 0)
	require.NoError(t, err)
	defer l.Close()

	host, port, err := net.SplitHostPort(l.Addr())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.NotZero(t, p)
	assert.Positive(t, l.Handle())
}

func TestListen_addressInUseIsBindError(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	port := held.Addr().(*net.TCPAddr).Port
	_, err = Listen("127.0.0.1", port, 5)
	require.Error(t, err)

	var be *BindError
	assert.True(t, errors.As(err, &be))
}

func TestListener_AcceptWouldBlock(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Accept()
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.True(t, IsTemporary(err))
}

func TestSocketConn_readWriteEOF(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)

	server := acceptEventually(t, l)
	defer server.Close()
	assert.NotEmpty(t, server.RemoteAddr())

	t.Run("nothing pending reads as would-block", func(t *testing.T) {
		res := server.Read(make([]byte, 16))
		assert.Equal(t, ReadWouldBlock, res.Kind)
	})

	t.Run("data is read", func(t *testing.T) {
		_, err := client.Write([]byte("PWD\r\n"))
		require.NoError(t, err)

		buf := make([]byte, 16)
		res := readEventually(t, server, buf)
		require.Equal(t, ReadData, res.Kind)
		assert.Equal(t, "PWD\r\n", string(buf[:res.N]))
	})

	t.Run("writes reach the peer", func(t *testing.T) {
		n, err := server.Write([]byte("257 \"/\"\r\n"))
		require.NoError(t, err)
		assert.Equal(t, 9, n)

		buf := make([]byte, 16)
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		got, err := client.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "257 \"/\"\r\n", string(buf[:got]))
	})

	t.Run("peer close reads as EOF", func(t *testing.T) {
		require.NoError(t, client.Close())
		res := readEventually(t, server, make([]byte, 16))
		assert.Equal(t, ReadEOF, res.Kind)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, server.Close())
		require.NoError(t, server.Close())
		assert.Equal(t, ReadError, server.Read(make([]byte, 1)).Kind)
	})
}

func TestReadKind_String(t *testing.T) {
	assert.Equal(t, "Data", ReadData.String())
	assert.Equal(t, "EOF", ReadEOF.String())
	assert.Equal(t, "WouldBlock", ReadWouldBlock.String())
	assert.Equal(t, "Error", ReadError.String())
	assert.Equal(t, "Unknown", ReadKind(42).String())
}
