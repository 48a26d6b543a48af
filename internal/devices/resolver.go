package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultProbeTimeout   = 7 * time.Second
	DefaultProbeAttempts  = 3
	DefaultCommandTimeout = minerapi.DefaultTimeout
)

// ErrUnresolved is returned by callers when Resolve yields no device.
var ErrUnresolved = errors.New("no miner answered at this address")

type ResolverConfig struct {
	ProbeTimeout   time.Duration
	ProbeAttempts  int
	CommandTimeout time.Duration

	// Exchanger replaces the TCP transport for probes and clients when set.
	Exchanger minerapi.Exchanger
}

// Resolver turns addresses into cached, family-specific miners and owns the
// pollers started for them.
type Resolver struct {
	config         ResolverConfig
	loader         *ProfileLoader
	registry       *Registry
	probeExchanger minerapi.Exchanger
	logger         *zap.Logger

	mu      sync.RWMutex
	cache   map[minerapi.Address]*Miner
	pollers map[minerapi.Address]*Poller
	group   singleflight.Group
}

func NewResolver(config ResolverConfig, loader *ProfileLoader, registry *Registry, logger *zap.Logger) *Resolver {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.ProbeAttempts <= 0 {
		config.ProbeAttempts = DefaultProbeAttempts
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	probeExchanger := config.Exchanger
	if probeExchanger == nil {
		probeExchanger = minerapi.NewTransport(config.ProbeTimeout)
	}

	return &Resolver{
		config:         config,
		loader:         loader,
		registry:       registry,
		probeExchanger: probeExchanger,
		logger:         logger,
		cache:          make(map[minerapi.Address]*Miner),
		pollers:        make(map[minerapi.Address]*Poller),
	}
}

// Resolve returns the cached miner for addr or probes and classifies it.
// Nil means no device answered or ctx ended first; it never fails otherwise.
// A caller giving up does not cancel the probe shared with other callers.
func (r *Resolver) Resolve(ctx context.Context, addr minerapi.Address) *Miner {
	if miner, ok := r.Lookup(addr); ok {
		resolverCacheHits.Inc()
		return miner
	}

	// Der gemeinsame Probe läuft ohne Cancel des ersten Aufrufers und ist
	// durch ProbeTimeout x ProbeAttempts begrenzt
	probeCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(addr.String(), func() (any, error) {
		// Ein paralleler Aufruf kann den Cache inzwischen befüllt haben
		if miner, ok := r.Lookup(addr); ok {
			return miner, nil
		}

		miner := r.resolve(probeCtx, addr)
		if miner == nil {
			return nil, nil
		}

		r.mu.Lock()
		r.cache[addr] = miner
		cachedMiners.Set(float64(len(r.cache)))
		r.mu.Unlock()

		return miner, nil
	})

	select {
	case res := <-ch:
		miner, _ := res.Val.(*Miner)
		return miner
	case <-ctx.Done():
		return nil
	}
}

func (r *Resolver) resolve(ctx context.Context, addr minerapi.Address) *Miner {
	version, reachable := r.probe(ctx, addr)
	if !reachable {
		resolutionsTotal.WithLabelValues("unresolved").Inc()
		r.logger.Debug("No miner at address", zap.String("address", addr.String()))
		return nil
	}

	family := r.registry.Classify(version)
	profile, err := r.loader.Load(family)
	if err != nil && family != FamilyUnknown {
		r.logger.Warn("Profile for classified family unavailable",
			zap.String("address", addr.String()),
			zap.String("family", family),
			zap.Error(err))
		profile, err = r.loader.Load(FamilyUnknown)
	}
	if err != nil {
		r.logger.Error("Failed to load fallback profile",
			zap.String("address", addr.String()),
			zap.Error(err))
		return nil
	}

	miner := newMiner(addr, profile, version, r.config.Exchanger, r.config.CommandTimeout, r.logger)
	resolutionsTotal.WithLabelValues(miner.Family).Inc()

	r.logger.Info("Miner resolved",
		zap.String("address", addr.String()),
		zap.String("family", miner.Family),
		zap.String("firmware", miner.Version.Firmware))

	return miner
}

// Lookup returns a cached miner without touching the network.
func (r *Resolver) Lookup(addr minerapi.Address) (*Miner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	miner, ok := r.cache[addr]
	return miner, ok
}

// Forget drops one cache entry and stops its poller.
func (r *Resolver) Forget(addr minerapi.Address) bool {
	r.mu.Lock()
	_, ok := r.cache[addr]
	delete(r.cache, addr)
	cachedMiners.Set(float64(len(r.cache)))
	poller := r.pollers[addr]
	delete(r.pollers, addr)
	r.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	return ok
}

// ClearCache drops every cached miner so the next Resolve probes again.
// Running pollers keep their miner.
func (r *Resolver) ClearCache() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.cache)
	r.cache = make(map[minerapi.Address]*Miner)
	cachedMiners.Set(0)

	r.logger.Info("Miner cache cleared", zap.Int("dropped", n))
	return n
}

// List returns all cached miners sorted by address.
func (r *Resolver) List() []*Miner {
	r.mu.RLock()
	miners := make([]*Miner, 0, len(r.cache))
	for _, miner := range r.cache {
		miners = append(miners, miner)
	}
	r.mu.RUnlock()

	SortMiners(miners)
	return miners
}

// SortMiners orders miners by host, then port.
func SortMiners(miners []*Miner) {
	sort.Slice(miners, func(i, j int) bool {
		a, b := miners[i].Address, miners[j].Address
		if a.Host != b.Host {
			return compareHosts(a.Host, b.Host) < 0
		}
		return a.Port < b.Port
	})
}

func (r *Resolver) Profiles() *ProfileLoader {
	return r.loader
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

// StartPoller starts periodic polling of a cached miner.
func (r *Resolver) StartPoller(addr minerapi.Address, interval time.Duration, onPoll func(PollResult)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	miner, exists := r.cache[addr]
	if !exists {
		return fmt.Errorf("miner not resolved: %s", addr)
	}
	if _, running := r.pollers[addr]; running {
		return nil
	}

	poller := NewPoller(miner, interval, onPoll, r.logger)
	if err := poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	r.pollers[addr] = poller

	return nil
}

// Poller returns the running poller of addr.
func (r *Resolver) Poller(addr minerapi.Address) (*Poller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	poller, ok := r.pollers[addr]
	return poller, ok
}

// PollingCount returns how many pollers are running.
func (r *Resolver) PollingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pollers)
}

// StopAll stops every poller.
func (r *Resolver) StopAll(ctx context.Context) error {
	r.mu.Lock()
	pollers := r.pollers
	r.pollers = make(map[minerapi.Address]*Poller)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, poller := range pollers {
			poller.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
