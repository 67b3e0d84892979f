package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReply_String(t *testing.T) {
	assert.Equal(t, "502 Command not implemented", NotImplemented.String())
	assert.Equal(t, "221", Reply{Code: 221}.String())
	assert.Equal(t, []byte("230 User logged in"), Reply{Code: 230, Text: "User logged in"}.Bytes())
	assert.True(t, Reply{}.Empty())
	assert.False(t, NotImplemented.Empty())
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line, verb, arg string
	}{
		{"USER bob", "USER", "bob"},
		{"user  bob  ", "USER", "bob"},
		{"  pwd", "PWD", ""},
		{"MAIL FROM:<a@b>", "MAIL", "FROM:<a@b>"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			verb, arg := Split(tt.line)
			assert.Equal(t, tt.verb, verb)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestTable_Handle(t *testing.T) {
	ctx := context.Background()

	table := NewTable()
	table.Register("echo", func(_ context.Context, _ *Session, arg string) Reply {
		return Reply{Code: 200, Text: arg}
	})
	table.Register("BYE", func(context.Context, *Session, string) Reply {
		return Reply{Code: 221, Text: "Goodbye", Close: true}
	})
	assert.Equal(t, 2, table.Verbs())

	t.Run("matches the leading token case-insensitively", func(t *testing.T) {
		sess := &Session{}
		assert.Equal(t, Reply{Code: 200, Text: "hi there"}, table.Handle(ctx, sess, "Echo hi there"))
	})

	t.Run("unknown tokens answer 502 and keep the state", func(t *testing.T) {
		sess := &Session{State: StateAuthenticated}
		assert.Equal(t, NotImplemented, table.Handle(ctx, sess, "FEAT"))
		assert.Equal(t, StateAuthenticated, sess.State)

		assert.Equal(t, NotImplemented, table.Handle(ctx, sess, ""))
		assert.Equal(t, StateAuthenticated, sess.State)
	})

	t.Run("a closing reply makes the session terminal", func(t *testing.T) {
		sess := &Session{}
		reply := table.Handle(ctx, sess, "bye")
		assert.True(t, reply.Close)
		assert.Equal(t, StateClosing, sess.State)

		assert.True(t, table.Handle(ctx, sess, "ECHO again").Empty())
		assert.Equal(t, StateClosing, sess.State)
	})

	t.Run("raw hook takes whole lines while active", func(t *testing.T) {
		var got []string
		raw := NewTable()
		raw.Register("ECHO", func(context.Context, *Session, string) Reply {
			return Reply{Code: 200}
		})
		raw.SetRawHook(
			func(s *Session) bool { return s.State == StateData },
			func(_ context.Context, _ *Session, line string) Reply {
				got = append(got, line)
				return Reply{}
			},
		)

		sess := &Session{State: StateData}
		assert.True(t, raw.Handle(ctx, sess, "ECHO not a command").Empty())
		assert.Equal(t, []string{"ECHO not a command"}, got)

		sess.State = StateGreeted
		assert.Equal(t, 200, raw.Handle(ctx, sess, "ECHO").Code)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "New", StateNew.String())
	assert.Equal(t, "Authenticating", StateAuthenticating.String())
	assert.Equal(t, "Authenticated", StateAuthenticated.String())
	assert.Equal(t, "Closing", StateClosing.String())
	assert.Equal(t, "Greeted", StateGreeted.String())
	assert.Equal(t, "MailFrom", StateMailFrom.String())
	assert.Equal(t, "Recipients", StateRecipients.String())
	assert.Equal(t, "Data", StateData.String())
	assert.Equal(t, "Unknown", State(99).String())
}
