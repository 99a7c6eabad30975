package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaylabs/relay/internal/bus"
	"github.com/relaylabs/relay/pkg/models"
)

// cliChatID is the single conversation a terminal session maps to.
const cliChatID = "local"

// CLI is the interactive terminal channel: one line in, replies out.
type CLI struct {
	logger *slog.Logger
	bus    *bus.Bus
	in     io.Reader
	out    io.Writer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCLI creates the terminal channel. in and out are usually
// os.Stdin and os.Stdout.
func NewCLI(b *bus.Bus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		logger: slog.Default().With("component", "channel", "channel", "cli"),
		bus:    b,
		in:     in,
		out:    out,
	}
}

func (c *CLI) Name() models.ChannelType { return models.ChannelCLI }

// Start launches the read loop and the reply writer.
func (c *CLI) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	outbound := c.bus.SubscribeOutbound(models.ChannelCLI)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				fmt.Fprintf(c.out, "%s\n> ", msg.Content)
			}
		}
	}()

	// Not tracked by wg: a blocked stdin read cannot be interrupted
	// and must not hold up shutdown.
	go func() {
		fmt.Fprint(c.out, "> ")
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Fprint(c.out, "> ")
				continue
			}
			c.bus.Publish(&models.InboundMessage{
				Channel:      models.ChannelCLI,
				ChatID:       cliChatID,
				SenderID:     cliChatID,
				Content:      line,
				ReceivedAtMs: time.Now().UnixMilli(),
			})
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("stdin read failed", "error", err)
		}
	}()

	return nil
}

// Stop cancels the loops and waits for the reply writer.
func (c *CLI) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
