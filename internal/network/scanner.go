package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"go.uber.org/zap"
)

const (
	DefaultPingTimeout  = time.Second
	DefaultPingAttempts = 3
	DefaultWorkers      = 256
	DefaultPrefix       = 24

	// Largest subnet a single scan accepts (/16 for IPv4).
	maxHosts = 1 << 16
)

// Resolver is the part of devices.Resolver the scanner needs.
type Resolver interface {
	Resolve(ctx context.Context, addr minerapi.Address) *devices.Miner
	ClearCache() int
}

type Config struct {
	Port         int
	PingTimeout  time.Duration
	PingAttempts int
	Workers      int
}

type Scanner struct {
	config   Config
	resolver Resolver
	logger   *zap.Logger
	dialer   net.Dialer
}

type ScanResult struct {
	Network    string           `json:"network"`
	Scanned    int              `json:"scanned"`
	Responding int              `json:"responding"`
	Miners     []*devices.Miner `json:"-"`
	Duration   time.Duration    `json:"duration"`
}

func NewScanner(config Config, resolver Resolver, logger *zap.Logger) *Scanner {
	if config.Port <= 0 {
		config.Port = minerapi.DefaultPort
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = DefaultPingTimeout
	}
	if config.PingAttempts <= 0 {
		config.PingAttempts = DefaultPingAttempts
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		config:   config,
		resolver: resolver,
		logger:   logger,
		dialer:   net.Dialer{Timeout: config.PingTimeout},
	}
}

// Hosts enumerates the usable addresses of a subnet. A bare address is
// widened to its /24. Network and broadcast addresses are skipped for IPv4
// prefixes shorter than /31.
func Hosts(subnet string) (netip.Prefix, []netip.Addr, error) {
	subnet = strings.TrimSpace(subnet)
	if !strings.Contains(subnet, "/") {
		subnet = subnet + "/" + strconv.Itoa(DefaultPrefix)
	}

	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return netip.Prefix{}, nil, fmt.Errorf("invalid subnet %s: %w", subnet, err)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 16 {
		return netip.Prefix{}, nil, fmt.Errorf("subnet %s too large, at most %d addresses per scan", prefix, maxHosts)
	}

	var hosts []netip.Addr
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		hosts = append(hosts, addr)
		if !addr.Next().IsValid() {
			break
		}
	}

	if prefix.Addr().Is4() && prefix.Bits() < 31 && len(hosts) > 2 {
		hosts = hosts[1 : len(hosts)-1]
	}

	return prefix, hosts, nil
}

// Ping reports whether the API port accepts a connection within the attempts.
func (s *Scanner) Ping(ctx context.Context, host string) bool {
	address := net.JoinHostPort(host, strconv.Itoa(s.config.Port))

	for attempt := 0; attempt < s.config.PingAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		conn, err := s.dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

// Scan pings every host of subnet, drops the resolver cache and resolves all
// responding hosts. Miners come back sorted by address.
func (s *Scanner) Scan(ctx context.Context, subnet string) (*ScanResult, error) {
	start := time.Now()

	prefix, hosts, err := Hosts(subnet)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Scanning network for miners",
		zap.String("network", prefix.String()),
		zap.Int("hosts", len(hosts)))

	responding := s.pingAll(ctx, hosts)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan of %s aborted: %w", prefix, err)
	}

	s.resolver.ClearCache()
	miners := s.resolveAll(ctx, responding)

	result := &ScanResult{
		Network:    prefix.String(),
		Scanned:    len(hosts),
		Responding: len(responding),
		Miners:     miners,
		Duration:   time.Since(start),
	}

	s.logger.Info("Network scan finished",
		zap.String("network", result.Network),
		zap.Int("responding", result.Responding),
		zap.Int("miners", len(miners)),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (s *Scanner) pingAll(ctx context.Context, hosts []netip.Addr) []netip.Addr {
	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, s.config.Workers)
	var responding []netip.Addr

	for _, host := range hosts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(host netip.Addr) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if s.Ping(ctx, host.String()) {
				mu.Lock()
				responding = append(responding, host)
				mu.Unlock()
			}
		}(host)
	}

	wg.Wait()
	return responding
}

func (s *Scanner) resolveAll(ctx context.Context, hosts []netip.Addr) []*devices.Miner {
	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, s.config.Workers)
	miners := make([]*devices.Miner, 0, len(hosts))

	for _, host := range hosts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(host netip.Addr) {
			defer wg.Done()
			defer func() { <-semaphore }()

			addr := minerapi.NewAddress(host.String(), s.config.Port)
			if miner := s.resolver.Resolve(ctx, addr); miner != nil {
				mu.Lock()
				miners = append(miners, miner)
				mu.Unlock()
			}
		}(host)
	}

	wg.Wait()
	devices.SortMiners(miners)
	return miners
}
