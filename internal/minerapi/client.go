package minerapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ClientOptions configures a Client. Commands is the explicit allow-list used by
// Multicommand; SplitAggregates enables the one-by-one fallback for firmware that
// rejects "+"-joined commands.
type ClientOptions struct {
	Commands        []string
	SplitAggregates bool
	Timeout         time.Duration
	Exchanger       Exchanger
	Logger          *zap.Logger
}

// Client speaks the cgminer-style JSON API of one miner.
// Concurrent calls are independent; nothing is shared between requests.
type Client struct {
	address         Address
	exchanger       Exchanger
	commands        map[string]struct{}
	splitAggregates bool
	logger          *zap.Logger
}

func NewClient(address Address, opts ClientOptions) *Client {
	exchanger := opts.Exchanger
	if exchanger == nil {
		exchanger = NewTransport(opts.Timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	commands := make(map[string]struct{}, len(opts.Commands))
	for _, name := range opts.Commands {
		commands[name] = struct{}{}
	}

	return &Client{
		address:         address,
		exchanger:       exchanger,
		commands:        commands,
		splitAggregates: opts.SplitAggregates,
		logger:          logger.With(zap.String("address", address.String())),
	}
}

func (c *Client) Address() Address {
	return c.address
}

// Commands returns the allow-list in sorted order.
func (c *Client) Commands() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) Supports(name string) bool {
	_, ok := c.commands[name]
	return ok
}

type sendOptions struct {
	ignoreErrors bool
	quiet        bool
}

type SendOption func(*sendOptions)

// IgnoreErrors returns the parsed response even when it reports a failure status.
// Decode errors are still returned.
func IgnoreErrors() SendOption {
	return func(o *sendOptions) { o.ignoreErrors = true }
}

// AggregateHint marks a request whose failure the caller will handle by falling back.
func AggregateHint() SendOption {
	return func(o *sendOptions) { o.quiet = true }
}

// ExpectRejection marks a request that some firmware is known to reject, so a
// failure status is logged at debug level only.
func ExpectRejection() SendOption {
	return func(o *sendOptions) { o.quiet = true }
}

// SendCommand runs one request: encode, exchange, repair, parse, validate.
func (c *Client) SendCommand(ctx context.Context, cmd Command, opts ...SendOption) (resp Response, err error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	defer func() { observeRequest(cmd, start, err) }()

	payload, err := cmd.Encode()
	if err != nil {
		return nil, err
	}

	raw, err := c.exchanger.Exchange(ctx, c.address, payload)
	if err != nil {
		return nil, err
	}

	resp, err = Decode(raw)
	if err != nil {
		c.logger.Debug("Undecodable response",
			zap.String("command", cmd.Name),
			zap.Error(err))
		return nil, err
	}

	if o.ignoreErrors {
		return resp, nil
	}

	if v := Validate(resp); !v.OK {
		if o.quiet {
			c.logger.Debug("API command rejected",
				zap.String("command", cmd.Name),
				zap.String("message", v.Message))
		} else {
			c.logger.Warn("API command error",
				zap.String("command", cmd.Name),
				zap.String("message", v.Message))
		}
		return nil, &CommandError{Command: cmd.Name, Message: v.Message}
	}

	return resp, nil
}

// Multicommand sends the supported subset of names as one aggregated request.
// On firmware with the split quirk a rejected request is retried one command at a
// time; the merged result is keyed by command name and per-command failures are
// joined into the returned error without stopping the remaining commands.
func (c *Client) Multicommand(ctx context.Context, names ...string) (Response, error) {
	allowed := make([]string, 0, len(names))
	var removed []string
	for _, name := range names {
		if c.Supports(name) {
			allowed = append(allowed, name)
		} else {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		c.logger.Warn("Removing unsupported commands from multicommand",
			zap.Strings("removed", removed))
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCommands, strings.Join(names, ", "))
	}

	cmd := Cmd(strings.Join(allowed, CommandSeparator))
	resp, err := c.SendCommand(ctx, cmd, AggregateHint())
	if err == nil {
		return resp, nil
	}
	// Abgelehnte oder unlesbare Sammelantworten werden einzeln wiederholt
	if !c.splitAggregates || !(IsCommandError(err) || IsDecodeError(err)) {
		return nil, err
	}

	fallbacksTotal.Inc()
	c.logger.Debug("Falling back to individual commands", zap.Strings("commands", allowed))

	merged := Response{}
	var errs []error
	for _, name := range cmd.Names() {
		single, err := c.SendCommand(ctx, Cmd(name), AggregateHint())
		if err != nil {
			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) {
				err = &CommandError{Command: name, Message: err.Error()}
			}
			errs = append(errs, err)
			continue
		}
		merged[name] = []any{map[string]any(single)}
	}

	if len(errs) > 0 {
		return merged, errors.Join(errs...)
	}
	return merged, nil
}

func (c *Client) Version(ctx context.Context) (Response, error) {
	return c.SendCommand(ctx, Cmd("version"))
}

func (c *Client) Summary(ctx context.Context) (Response, error) {
	return c.SendCommand(ctx, Cmd("summary"))
}

func (c *Client) Pools(ctx context.Context) (Response, error) {
	return c.SendCommand(ctx, Cmd("pools"))
}

func (c *Client) Devs(ctx context.Context) (Response, error) {
	return c.SendCommand(ctx, Cmd("devs"))
}

func (c *Client) Stats(ctx context.Context) (Response, error) {
	return c.SendCommand(ctx, Cmd("stats"))
}
