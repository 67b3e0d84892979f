// Package ftp provides the command table of the file-transfer style protocol:
// USER, PASS, PWD, NOOP and QUIT over CRLF terminated lines.
package ftp

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/netreactor/cacher"
	"github.com/cyberinferno/netreactor/command"
	"github.com/cyberinferno/netreactor/logger"
)

// ContextResolver returns the working context reported by PWD for a user.
type ContextResolver interface {
	Resolve(ctx context.Context, user string) (string, error)
}

// ResolverFunc adapts a function to ContextResolver.
type ResolverFunc func(ctx context.Context, user string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, user string) (string, error) {
	return f(ctx, user)
}

// WorkingDirResolver reports the process working directory. Lookups are cached
// per user when Cache is set. The cached value belongs to this process, so
// keys carry Scope and processes sharing one cache never read each other's
// directory.
type WorkingDirResolver struct {
	Cache cacher.Cacher[string]
	TTL   time.Duration
	// Scope prefixes every cache key; it defaults to ProcessScope().
	Scope string
	// Getwd defaults to os.Getwd.
	Getwd func() (string, error)
}

// ProcessScope identifies the running process as host:pid.
var ProcessScope = sync.OnceValue(func() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
})

// Resolve returns the working directory for user.
func (r *WorkingDirResolver) Resolve(ctx context.Context, user string) (string, error) {
	getwd := r.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}

	if r.Cache == nil {
		return getwd()
	}

	scope := r.Scope
	if scope == "" {
		scope = ProcessScope()
	}

	return r.Cache.GetOrFetch(ctx, scope+"/"+user, r.TTL, func(context.Context) (string, error) {
		return getwd()
	})
}

var (
	replyUserOK    = command.Reply{Code: 331, Text: "Username OK, need password"}
	replyLoggedIn  = command.Reply{Code: 230, Text: "User logged in"}
	replyNeedUser  = command.Reply{Code: 503, Text: "Login with USER first"}
	replyNotLogged = command.Reply{Code: 530, Text: "Not logged in"}
	replyNoContext = command.Reply{Code: 550, Text: "Requested action not taken"}
	replyNoop      = command.Reply{Code: 200, Text: "NOOP ok"}
	replyGoodbye   = command.Reply{Code: 221, Text: "Goodbye", Close: true}
)

// NewTable builds the ftp command table.
//
// Parameters:
//   - resolver: Source of the PWD context
//   - log: Logger for resolver failures
//
// Returns:
//   - A command table ready for a reactor dispatcher
func NewTable(resolver ContextResolver, log logger.Logger) *command.Table {
	t := command.NewTable()

	t.Register("USER", func(_ context.Context, sess *command.Session, arg string) command.Reply {
		if arg == "" {
			return command.SyntaxError
		}
		sess.User = arg
		sess.State = command.StateAuthenticating
		return replyUserOK
	})

	t.Register("PASS", func(_ context.Context, sess *command.Session, _ string) command.Reply {
		if sess.State != command.StateAuthenticating {
			return replyNeedUser
		}
		sess.State = command.StateAuthenticated
		return replyLoggedIn
	})

	t.Register("PWD", func(ctx context.Context, sess *command.Session, _ string) command.Reply {
		if sess.State != command.StateAuthenticated {
			return replyNotLogged
		}

		wd, err := resolver.Resolve(ctx, sess.User)
		if err != nil {
			log.Warn("failed to resolve working context",
				logger.F("conn_id", sess.ID),
				logger.F("user", sess.User),
				logger.F("error", err))
			return replyNoContext
		}

		return command.Reply{Code: 257, Text: `"` + wd + `"`}
	})

	t.Register("NOOP", func(context.Context, *command.Session, string) command.Reply {
		return replyNoop
	})

	t.Register("QUIT", func(context.Context, *command.Session, string) command.Reply {
		return replyGoodbye
	})

	return t
}
