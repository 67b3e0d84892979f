package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/netreactor/client"
	"github.com/cyberinferno/netreactor/config"
	"github.com/cyberinferno/netreactor/message"
)

// ExecuteSend implements relay-send: it connects to a relay server and sends
// one message envelope.
//
// Returns:
//   - nil once the envelope is written, or when only help/version was requested
//   - A usage, encoding or connection error
func ExecuteSend(ctx context.Context, args []string) error {
	var (
		addr       = net.JoinHostPort(config.DefaultHost, strconv.Itoa(config.DefaultPort))
		serializer = config.DefaultSerializer
		maxFrame   = config.DefaultMaxFrame
		timeout    = 10 * time.Second
	)

	fs := flag.NewFlagSet("relay-send", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.StringVarP(&addr, "addr", "a", addr, "Relay server host:port")
	fs.DurationVarP(&timeout, "timeout", "w", timeout, "Connect and write timeout")

	// ── encoding ─────────────────────────────────────────────────
	fs.StringVar(&serializer, "serializer", serializer, "Message encoding: json, cbor or xml")
	fs.IntVar(&maxFrame, "max-frame", maxFrame, "Max envelope body size")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printSendUsage(os.Stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printSendUsage(os.Stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Printf("relay-send %s\n", version)
		return nil
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("expected <username> <text>, got %d arguments (use --help for usage)", fs.NArg())
	}

	s, err := message.SerializerByName(serializer)
	if err != nil {
		return err
	}
	codec := message.NewCodec(s, maxFrame)

	msg := message.New(fs.Arg(0), fs.Arg(1), time.Now())
	return Send(ctx, addr, codec, msg, timeout)
}

// Send delivers msg to the relay server at addr over a fresh connection.
func Send(ctx context.Context, addr string, codec *message.Codec, msg message.Message, timeout time.Duration) error {
	wire, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	cfg := client.DefaultConfig(addr)
	cfg.Codec = codec.Frames
	cfg.ConnectTimeout = timeout
	cfg.WriteTimeout = timeout

	c := client.New(cfg)
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.SendRaw(wire)
}

func printSendUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `relay-send v%s

Send one message to a netreactor relay server.

Usage:
  relay-send [options] <username> <text>

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
}
