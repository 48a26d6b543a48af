package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/KevinKickass/OpenMinerCore/internal/network"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State          string         `json:"state"`
	MinerCount     int            `json:"miner_count"`
	PollingMiners  int            `json:"polling_miners"`
	Families       map[string]int `json:"families"`
	ConnectedPeers int            `json:"websocket_clients"`
	Persistence    bool           `json:"persistence"`
	Timestamp      int64          `json:"timestamp"`
}

type LifecycleManager interface {
	Resolver() *devices.Resolver
	Scanner() *network.Scanner
	GetCurrentStatus() SystemStatus

	// TrackMiner persists a resolved miner and starts polling it.
	TrackMiner(ctx context.Context, miner *devices.Miner) error
	// UntrackMiner stops polling, forgets and deletes the miner at addr.
	UntrackMiner(ctx context.Context, addr minerapi.Address) error
	// ClearCache drops every cached classification and notifies live clients.
	ClearCache() int

	Shutdown(ctx context.Context) error
}
