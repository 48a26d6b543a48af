package devices

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"go.uber.org/zap"
)

// Version commands tried in order within one probe attempt. btminer answers
// only the second one on newer firmware.
var probeCommands = []string{"version", "get_version"}

// probe returns the first decodable version reply and whether the device
// answered at all. Attempts run sequentially without backoff.
func (r *Resolver) probe(ctx context.Context, addr minerapi.Address) (minerapi.Response, bool) {
	client := minerapi.NewClient(addr, minerapi.ClientOptions{
		Timeout:   r.config.ProbeTimeout,
		Exchanger: r.probeExchanger,
		Logger:    r.logger,
	})

	reachable := false
	for attempt := 1; attempt <= r.config.ProbeAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		resp, reached, err := probeOnce(ctx, client)
		if resp != nil {
			return resp, true
		}
		reachable = reachable || reached

		r.logger.Debug("Version probe failed",
			zap.String("address", addr.String()),
			zap.Int("attempt", attempt),
			zap.Bool("reachable", reached),
			zap.Error(err))
	}

	return nil, reachable
}

func probeOnce(ctx context.Context, client *minerapi.Client) (minerapi.Response, bool, error) {
	reached := false
	var lastErr error

	for i, name := range probeCommands {
		var opts []minerapi.SendOption
		if i < len(probeCommands)-1 {
			// btminer lehnt "version" regulär ab
			opts = append(opts, minerapi.ExpectRejection())
		}
		resp, err := client.SendCommand(ctx, minerapi.Cmd(name), opts...)
		if err == nil {
			return resp, true, nil
		}
		lastErr = err

		// Timeout oder Verbindungsfehler beenden den Versuch
		if errors.Is(err, minerapi.ErrTimeout) ||
			errors.Is(err, minerapi.ErrConnection) ||
			ctx.Err() != nil {
			return nil, reached, err
		}
		reached = true
	}

	return nil, reached, lastErr
}
