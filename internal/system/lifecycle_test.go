package system

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/config"
	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	minerHost    = "10.0.0.21"
	cgminerReply = `{"STATUS":[{"STATUS":"S","Msg":"CGMiner versions","Description":"cgminer 4.11.1"}],"VERSION":[{"CGMiner":"4.11.1","API":"3.7"}],"id":1}`
	pollReply    = `{"summary":[{"STATUS":[{"STATUS":"S","Msg":"Summary"}],"SUMMARY":[{"Elapsed":10}],"id":1}],"pools":[{"STATUS":[{"STATUS":"S","Msg":"1 Pool(s)"}],"POOLS":[],"id":1}],"id":1}`
)

type cgminerNet struct{}

func (cgminerNet) Exchange(_ context.Context, addr minerapi.Address, payload []byte) ([]byte, error) {
	if addr.Host != minerHost {
		return nil, minerapi.ErrConnection
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	switch req.Command {
	case "version":
		return []byte(cgminerReply), nil
	case "summary+pools":
		return []byte(pollReply), nil
	}
	return []byte(`{"STATUS":[{"STATUS":"E","Msg":"Invalid command"}],"id":1}`), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Auth: config.AuthConfig{
			APIKeyEnv:      "OMC_SYSTEM_TEST_API_KEY",
			JWTSecretEnv:   "OMC_SYSTEM_TEST_JWT_SECRET",
			AccessTokenTTL: time.Minute,
		},
		Miner: config.MinerConfig{
			Port:          minerapi.DefaultPort,
			ProbeTimeout:  100 * time.Millisecond,
			ProbeAttempts: 1,
			PollInterval:  time.Hour,
			PingTimeout:   50 * time.Millisecond,
			PingAttempts:  1,
			ScanWorkers:   4,
		},
	}
}

func startLifecycle(t *testing.T) *LifecycleManager {
	t.Helper()

	lm, err := NewLifecycleManager(nil, testConfig(), zap.NewNop(), WithExchanger(cgminerNet{}))
	require.NoError(t, err)
	require.NoError(t, lm.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lm.Shutdown(ctx)
	})
	return lm
}

func TestStartServesHealth(t *testing.T) {
	lm := startLifecycle(t)
	assert.Equal(t, StateRunning, lm.State())

	port := lm.GRPCAddr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestTrackAndUntrackMiner(t *testing.T) {
	lm := startLifecycle(t)
	ctx := context.Background()
	addr := minerapi.NewAddress(minerHost, 0)

	miner := lm.Resolver().Resolve(ctx, addr)
	require.NotNil(t, miner)
	assert.Equal(t, "cgminer", miner.Family)

	require.NoError(t, lm.TrackMiner(ctx, miner))

	status := lm.GetCurrentStatus()
	assert.Equal(t, 1, status.MinerCount)
	assert.Equal(t, 1, status.PollingMiners)
	assert.Equal(t, map[string]int{"cgminer": 1}, status.Families)
	assert.False(t, status.Persistence)

	require.NoError(t, lm.UntrackMiner(ctx, addr))
	assert.Equal(t, 0, lm.GetCurrentStatus().PollingMiners)

	err := lm.UntrackMiner(ctx, addr)
	assert.ErrorIs(t, err, devices.ErrUnresolved)
}

func TestClearCacheKeepsPollers(t *testing.T) {
	lm := startLifecycle(t)
	ctx := context.Background()

	miner := lm.Resolver().Resolve(ctx, minerapi.NewAddress(minerHost, 0))
	require.NotNil(t, miner)
	require.NoError(t, lm.TrackMiner(ctx, miner))

	assert.Equal(t, 1, lm.ClearCache())
	status := lm.GetCurrentStatus()
	assert.Equal(t, 0, status.MinerCount)
	assert.Equal(t, 1, status.PollingMiners)
}

func TestShutdownIsIdempotent(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(), zap.NewNop(), WithExchanger(cgminerNet{}))
	require.NoError(t, err)
	require.NoError(t, lm.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, lm.Shutdown(ctx))
	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateStopping, StateStopped))
	assert.NoError(t, ValidateTransition(StateStopped, StateInitializing))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateRunning, StateInitializing))
}

func TestSystemStateJSON(t *testing.T) {
	data, err := json.Marshal(SystemStatus{State: StateRunning})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"RUNNING"`)
}
