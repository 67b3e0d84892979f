// Package mail provides the command table of the mail style protocol. Accepted
// messages are handed to a Publisher once the terminating "." line arrives.
package mail

import (
	"context"
	"strings"
	"time"

	"github.com/cyberinferno/netreactor/command"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/message"
)

// Publisher receives every accepted message.
type Publisher interface {
	Publish(ctx context.Context, msg message.Message)
}

// Transaction is the envelope and body collected between MAIL and ".".
type Transaction struct {
	From       string
	Recipients []string
	body       strings.Builder
}

// Body returns the collected message text.
func (tx *Transaction) Body() string {
	return strings.TrimSuffix(tx.body.String(), "\r\n")
}

var (
	replyHello     = command.Reply{Code: 250, Text: "Hello"}
	replyOK        = command.Reply{Code: 250, Text: "OK"}
	replyStartData = command.Reply{Code: 354, Text: "End data with <CR><LF>.<CR><LF>"}
	replyAccepted  = command.Reply{Code: 250, Text: "OK: message accepted for delivery"}
	replyBye       = command.Reply{Code: 221, Text: "Bye", Close: true}
)

// Options tweaks the mail table.
type Options struct {
	// Publisher is optional; without it accepted messages are only logged.
	Publisher Publisher
	// Now defaults to time.Now.
	Now func() time.Time
}

func transaction(sess *command.Session) *Transaction {
	tx, _ := sess.Data.(*Transaction)
	if tx == nil {
		tx = &Transaction{}
		sess.Data = tx
	}
	return tx
}

// address extracts the mailbox from "FROM:<a@b>" style arguments. ok is false
// when the keyword is missing.
func address(arg, keyword string) (string, bool) {
	if len(arg) < len(keyword) || !strings.EqualFold(arg[:len(keyword)], keyword) {
		return "", false
	}

	addr := strings.TrimSpace(arg[len(keyword):])
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return addr, true
}

// NewTable builds the mail command table.
//
// Parameters:
//   - opts: Delivery options
//   - log: Logger for accepted messages
//
// Returns:
//   - A command table ready for a reactor dispatcher
func NewTable(opts Options, log logger.Logger) *command.Table {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	t := command.NewTable()

	greet := func(_ context.Context, sess *command.Session, arg string) command.Reply {
		if arg == "" {
			return command.SyntaxError
		}
		sess.Data = &Transaction{}
		sess.State = command.StateGreeted
		return replyHello
	}
	t.Register("HELO", greet)
	t.Register("EHLO", greet)

	t.Register("MAIL", func(_ context.Context, sess *command.Session, arg string) command.Reply {
		if sess.State != command.StateGreeted {
			return command.BadSequence
		}
		from, ok := address(arg, "FROM:")
		if !ok {
			return command.SyntaxError
		}

		tx := &Transaction{From: from}
		sess.Data = tx
		sess.User = from
		sess.State = command.StateMailFrom
		return replyOK
	})

	t.Register("RCPT", func(_ context.Context, sess *command.Session, arg string) command.Reply {
		if sess.State != command.StateMailFrom && sess.State != command.StateRecipients {
			return command.BadSequence
		}
		to, ok := address(arg, "TO:")
		if !ok || to == "" {
			return command.SyntaxError
		}

		tx := transaction(sess)
		tx.Recipients = append(tx.Recipients, to)
		sess.State = command.StateRecipients
		return replyOK
	})

	t.Register("DATA", func(_ context.Context, sess *command.Session, _ string) command.Reply {
		if sess.State != command.StateRecipients {
			return command.BadSequence
		}
		sess.State = command.StateData
		return replyStartData
	})

	t.Register("RSET", func(_ context.Context, sess *command.Session, _ string) command.Reply {
		sess.Data = &Transaction{}
		if sess.State != command.StateNew {
			sess.State = command.StateGreeted
		}
		return replyOK
	})

	t.Register("NOOP", func(context.Context, *command.Session, string) command.Reply {
		return replyOK
	})

	t.Register("QUIT", func(context.Context, *command.Session, string) command.Reply {
		return replyBye
	})

	t.SetRawHook(
		func(sess *command.Session) bool { return sess.State == command.StateData },
		func(ctx context.Context, sess *command.Session, line string) command.Reply {
			tx := transaction(sess)
			if line != "." {
				tx.body.WriteString(strings.TrimPrefix(line, "."))
				tx.body.WriteString("\r\n")
				return command.Reply{}
			}

			msg := message.New(tx.From, tx.Body(), now())
			log.Info("message accepted",
				logger.F("conn_id", sess.ID),
				logger.F("from", tx.From),
				logger.F("recipients", tx.Recipients),
				logger.F("size", len(msg.Text)))
			if opts.Publisher != nil {
				opts.Publisher.Publish(ctx, msg)
			}

			sess.Data = &Transaction{}
			sess.State = command.StateGreeted
			return replyAccepted
		},
	)

	return t
}
