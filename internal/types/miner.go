package types

import (
	"time"

	"github.com/google/uuid"
)

// MinerProfile is the descriptor table entry of one firmware family.
type MinerProfile struct {
	Profile  MinerProfileInfo `json:"miner_profile"`
	Hardware HardwareInfo     `json:"hardware"`
	API      APIConfig        `json:"api"`
	SSH      SSHConfig        `json:"ssh"`
}

type MinerProfileInfo struct {
	Family      string `json:"family"`
	Vendor      string `json:"vendor"`
	Firmware    string `json:"firmware"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type HardwareInfo struct {
	Boards        int `json:"boards"`
	ChipsPerBoard int `json:"chips_per_board"`
	Fans          int `json:"fans"`
}

// NominalChips is the expected chip count over all boards.
func (h HardwareInfo) NominalChips() int {
	return h.Boards * h.ChipsPerBoard
}

type APIConfig struct {
	Port            int      `json:"port,omitempty"`
	TimeoutMs       int      `json:"timeout_ms,omitempty"`
	SplitAggregates bool     `json:"split_aggregates"`
	Commands        []string `json:"commands"`
}

// Timeout returns the per-request timeout, zero when the profile does not set one.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// SSHConfig holds the shell defaults of a family. Empty commands mean the
// capability is not available over SSH.
type SSHConfig struct {
	Port                 int    `json:"port,omitempty"`
	Username             string `json:"username,omitempty"`
	Password             string `json:"password,omitempty"`
	RebootCommand        string `json:"reboot_command,omitempty"`
	RestartCommand       string `json:"restart_command,omitempty"`
	StopMiningCommand    string `json:"stop_mining_command,omitempty"`
	ResumeMiningCommand  string `json:"resume_mining_command,omitempty"`
	FaultLightOnCommand  string `json:"fault_light_on_command,omitempty"`
	FaultLightOffCommand string `json:"fault_light_off_command,omitempty"`
	HostnameCommand      string `json:"hostname_command,omitempty"`
	ConfigPath           string `json:"config_path,omitempty"`
}

// Enabled reports whether the firmware family exposes a shell at all.
func (s SSHConfig) Enabled() bool {
	return s.Username != ""
}

// MinerInfo is the runtime view of a resolved miner returned by the API.
type MinerInfo struct {
	ID          uuid.UUID `json:"id"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Family      string    `json:"family"`
	Vendor      string    `json:"vendor"`
	Firmware    string    `json:"firmware,omitempty"`
	APIVersion  string    `json:"api_version,omitempty"`
	Commands    []string  `json:"commands"`
	Chips       int       `json:"nominal_chips"`
	Fans        int       `json:"fans"`
	ResolvedAt  time.Time `json:"resolved_at"`
	LastPollAt  time.Time `json:"last_poll_at,omitzero"`
	LastPollErr string    `json:"last_poll_error,omitempty"`
}
