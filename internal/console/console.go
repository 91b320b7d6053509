package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
)

// Request outcomes reported through LogRequest
const (
	StatusBlocked      = "BLOCKED"
	StatusCacheHit     = "CACHE HIT"
	StatusMiss         = "MISS"
	StatusTunnelClosed = "TUNNEL CLOSED"
)

// Sink receives request and error events from the proxy
type Sink interface {
	LogRequest(url, method, status string, duration time.Duration)
	LogError(message string)
}

// Console is the coordinator's operator console. It records events
// through zerolog and runs the command loop that edits the blocklist.
type Console struct {
	blocklist blocklist.Editor
	logger    zerolog.Logger
}

var _ Sink = (*Console)(nil)

// New creates a new Console
func New(editor blocklist.Editor, logger zerolog.Logger) *Console {
	return &Console{
		blocklist: editor,
		logger:    logger.With().Str("component", "console").Logger(),
	}
}

// LogRequest implements Sink
func (c *Console) LogRequest(url, method, status string, duration time.Duration) {
	c.logger.Info().
		Str("method", method).
		Str("url", url).
		Str("status", status).
		Int64("durationMs", duration.Milliseconds()).
		Msg("request")
}

// LogError implements Sink
func (c *Console) LogError(message string) {
	c.logger.Error().Msg(message)
}

// Run reads commands from in until quit, end of input or ctx is done
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printHelp(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out, "Console closed")
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !c.execute(line, out) {
				fmt.Fprintln(out, "Console closed")
				return nil
			}
		}
	}
}

// execute runs one command line and reports whether the loop should continue
func (c *Console) execute(line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "help":
		c.printHelp(out)
	case "block":
		if len(args) == 0 {
			fmt.Fprintln(out, "Usage: block <domain>")
			break
		}
		c.blocklist.Add(args[0])
		fmt.Fprintf(out, "Blocked: %s\n", args[0])
	case "unblock":
		if len(args) == 0 {
			fmt.Fprintln(out, "Usage: unblock <domain>")
			break
		}
		c.blocklist.Remove(args[0])
		fmt.Fprintf(out, "Unblocked: %s\n", args[0])
	case "list":
		fmt.Fprintf(out, "Blocked domains: %s\n", strings.Join(c.blocklist.List(), ", "))
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(out, "Unknown command: %s\n", command)
		c.printHelp(out)
	}
	return true
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  help               - Show this help message")
	fmt.Fprintln(out, "  block <domain>     - Add a domain to the blocklist")
	fmt.Fprintln(out, "  unblock <domain>   - Remove a domain from the blocklist")
	fmt.Fprintln(out, "  list               - Show blocked domains")
	fmt.Fprintln(out, "  exit, quit         - Exit the console")
}
