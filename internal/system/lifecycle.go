package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/api/rest"
	"github.com/KevinKickass/OpenMinerCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMinerCore/internal/auth"
	"github.com/KevinKickass/OpenMinerCore/internal/config"
	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/interfaces"
	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/KevinKickass/OpenMinerCore/internal/network"
	"github.com/KevinKickass/OpenMinerCore/internal/storage"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Parallel resolutions while loading the inventory at startup
const startupWorkers = 16

type Option func(*options)

type options struct {
	exchanger minerapi.Exchanger
}

// WithExchanger replaces the TCP transport to miners, e.g. with a fake in tests.
func WithExchanger(exchanger minerapi.Exchanger) Option {
	return func(o *options) {
		o.exchanger = exchanger
	}
}

type LifecycleManager struct {
	config      *config.Config
	storage     *storage.PostgresClient
	resolver    *devices.Resolver
	scanner     *network.Scanner
	authService *auth.AuthService
	wsHub       *websocket.Hub
	logger      *zap.Logger

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	grpcAddr     net.Addr
	hubCancel    context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires all components. store may be nil, then the
// inventory is kept in memory only.
func NewLifecycleManager(
	store *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) (*LifecycleManager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loader, err := devices.NewProfileLoader(cfg.Devices.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	registry, err := devices.NewRegistry(cfg.Devices.MarkerFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load marker registry: %w", err)
	}

	resolver := devices.NewResolver(devices.ResolverConfig{
		ProbeTimeout:   cfg.Miner.ProbeTimeout,
		ProbeAttempts:  cfg.Miner.ProbeAttempts,
		CommandTimeout: cfg.Miner.CommandTimeout,
		Exchanger:      o.exchanger,
	}, loader, registry, logger)

	// Typisiertes nil darf nicht im Interface landen
	var events auth.EventLogger
	if store != nil {
		events = store
	}
	authService := auth.NewAuthService(events, cfg.Auth, logger)

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		resolver:     resolver,
		authService:  authService,
		wsHub:        websocket.NewHub(logger, authService),
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.scanner = network.NewScanner(network.Config{
		Port:         cfg.Miner.Port,
		PingTimeout:  cfg.Miner.PingTimeout,
		PingAttempts: cfg.Miner.PingAttempts,
		Workers:      cfg.Miner.ScanWorkers,
	}, notifyingResolver{lm}, logger)

	lm.wsHub.SetStatusProvider(lm)

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenMinerCore")

	lm.setState(StateInitializing)

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	lm.broadcastStatus()

	// Start gRPC Server (health)
	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	// Start REST API Server
	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	// Load miners from database
	if err := lm.loadMinersFromDB(); err != nil {
		lm.logger.Warn("Failed to load miners from database", zap.Error(err))
		// Continue anyway, not critical
	}

	lm.setState(StateRunning)
	lm.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("persistence", lm.storage != nil))

	return nil
}

func (lm *LifecycleManager) loadMinersFromDB() error {
	if lm.storage == nil {
		return nil
	}

	ctx := context.Background()
	records, err := lm.storage.LoadEnabledMiners(ctx)
	if err != nil {
		return fmt.Errorf("failed to load miners: %w", err)
	}

	lm.logger.Info("Loading miners from database", zap.Int("count", len(records)))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, startupWorkers)

	for _, record := range records {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(record storage.MinerRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			addr := minerapi.NewAddress(record.Host, record.Port)
			miner := lm.resolver.Resolve(ctx, addr)
			if miner == nil {
				lm.logger.Warn("Stored miner not reachable",
					zap.String("miner", addr.String()),
					zap.String("last_family", record.Family))
				lm.wsHub.Broadcast(websocket.NewMinerErrorMessage(addr.String(), record.Family, devices.ErrUnresolved))
				return
			}

			if err := lm.startPolling(miner); err != nil {
				lm.logger.Error("Failed to start poller",
					zap.String("miner", addr.String()),
					zap.Error(err))
				return
			}

			// Klassifizierung kann sich nach Firmware-Update geändert haben
			if miner.Family != record.Family {
				if _, err := lm.storage.SaveMiner(ctx, record.Host, record.Port, miner.Family, true); err != nil {
					lm.logger.Warn("Failed to update miner family",
						zap.String("miner", addr.String()),
						zap.Error(err))
				}
			}

			lm.logger.Info("Miner loaded and poller started",
				zap.String("miner", addr.String()),
				zap.String("family", miner.Family))
		}(record)
	}

	wg.Wait()
	return nil
}

// TrackMiner persists a resolved miner and starts polling it
func (lm *LifecycleManager) TrackMiner(ctx context.Context, miner *devices.Miner) error {
	if lm.storage != nil {
		if _, err := lm.storage.SaveMiner(ctx, miner.Address.Host, miner.Address.Port, miner.Family, true); err != nil {
			return fmt.Errorf("failed to save miner: %w", err)
		}
	}

	if err := lm.startPolling(miner); err != nil {
		return err
	}

	lm.wsHub.Broadcast(websocket.NewMinerResolvedMessage(miner.Address.String(), miner.Family))
	return nil
}

// UntrackMiner stops polling, drops the cache entry and deletes the record
func (lm *LifecycleManager) UntrackMiner(ctx context.Context, addr minerapi.Address) error {
	known := lm.resolver.Forget(addr)

	if lm.storage != nil {
		err := lm.storage.DeleteMiner(ctx, addr.Host, addr.Port)
		switch {
		case err == nil:
			known = true
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return fmt.Errorf("failed to delete miner: %w", err)
		}
	}

	if !known {
		return fmt.Errorf("%w: %s", devices.ErrUnresolved, addr)
	}

	lm.logger.Info("Miner removed", zap.String("miner", addr.String()))
	return nil
}

// ClearCache drops every cached classification and notifies live clients
func (lm *LifecycleManager) ClearCache() int {
	n := lm.resolver.ClearCache()
	lm.wsHub.Broadcast(websocket.NewCacheClearedMessage(n))
	return n
}

func (lm *LifecycleManager) startPolling(miner *devices.Miner) error {
	return lm.resolver.StartPoller(miner.Address, lm.config.Miner.PollInterval, lm.onPoll)
}

func (lm *LifecycleManager) onPoll(result devices.PollResult) {
	address := result.Miner.Address.String()
	if result.Err != nil {
		lm.wsHub.Broadcast(websocket.NewMinerErrorMessage(address, result.Miner.Family, result.Err))
		return
	}
	lm.wsHub.Broadcast(websocket.NewMinerPolledMessage(address, result.Miner.Family, result.Data))
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		lm.broadcastStatus()

		if lm.hubCancel != nil {
			lm.hubCancel()
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	if lm.healthServer != nil {
		lm.healthServer.Shutdown()
	}

	// 1. Stop all pollers
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.resolver.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("poller stop failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errChan)
		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()

	lm.healthServer = health.NewServer()
	lm.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)
	reflection.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState != state {
		if err := ValidateTransition(lm.currentState, state); err != nil {
			lm.logger.Warn("Unexpected state transition", zap.Error(err))
		}
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = nil
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// State returns the current lifecycle state
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	miners := lm.resolver.List()
	families := make(map[string]int)
	for _, miner := range miners {
		families[miner.Family]++
	}

	return interfaces.SystemStatus{
		State:          lm.State().String(),
		MinerCount:     len(miners),
		PollingMiners:  lm.resolver.PollingCount(),
		Families:       families,
		ConnectedPeers: lm.wsHub.GetClientCount(),
		Persistence:    lm.storage != nil,
		Timestamp:      time.Now().Unix(),
	}
}

// StatusSnapshot is sent to websocket clients right after they authenticate
func (lm *LifecycleManager) StatusSnapshot() any {
	return lm.getStatusInternal()
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	status := SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastError != nil {
		status.Error = lm.lastError.Error()
	}
	lm.stateMu.RUnlock()

	status.Miners = len(lm.resolver.List())
	status.Polling = lm.resolver.PollingCount()
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(lm.getStatusInternal()))
}

// Resolver returns the miner resolver
func (lm *LifecycleManager) Resolver() *devices.Resolver {
	return lm.resolver
}

// Scanner returns the network scanner
func (lm *LifecycleManager) Scanner() *network.Scanner {
	return lm.scanner
}

// GRPCAddr returns the bound gRPC listener address after Start
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

// notifyingResolver lets scans clear the cache through the lifecycle so
// websocket clients see cache_cleared.
type notifyingResolver struct {
	lm *LifecycleManager
}

func (r notifyingResolver) Resolve(ctx context.Context, addr minerapi.Address) *devices.Miner {
	return r.lm.resolver.Resolve(ctx, addr)
}

func (r notifyingResolver) ClearCache() int {
	return r.lm.ClearCache()
}
