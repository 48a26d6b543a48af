package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/KevinKickass/OpenMinerCore/internal/remote"
	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VersionInfo is what the resolver keeps of the version probe.
type VersionInfo struct {
	Firmware string `json:"firmware,omitempty"`
	API      string `json:"api,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Miner is a resolved device: address, family and a client configured for it.
// It is never mutated after construction.
type Miner struct {
	ID         uuid.UUID
	Address    minerapi.Address
	Family     string
	Profile    *types.MinerProfile
	API        *minerapi.Client
	Version    VersionInfo
	ResolvedAt time.Time

	logger *zap.Logger
}

func newMiner(
	address minerapi.Address,
	profile *types.MinerProfile,
	version minerapi.Response,
	exchanger minerapi.Exchanger,
	timeout time.Duration,
	logger *zap.Logger,
) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t := profile.API.Timeout(); t > 0 {
		timeout = t
	}

	client := minerapi.NewClient(address, minerapi.ClientOptions{
		Commands:        profile.API.Commands,
		SplitAggregates: profile.API.SplitAggregates,
		Timeout:         timeout,
		Exchanger:       exchanger,
		Logger:          logger,
	})

	return &Miner{
		ID:         uuid.New(),
		Address:    address,
		Family:     profile.Profile.Family,
		Profile:    profile,
		API:        client,
		Version:    extractVersion(profile.Profile.Firmware, version),
		ResolvedAt: time.Now(),
		logger:     logger,
	}
}

func (m *Miner) String() string {
	return fmt.Sprintf("%s (%s)", m.Address, m.Family)
}

func (m *Miner) Info() types.MinerInfo {
	return types.MinerInfo{
		ID:         m.ID,
		Host:       m.Address.Host,
		Port:       m.Address.Port,
		Family:     m.Family,
		Vendor:     m.Profile.Profile.Vendor,
		Firmware:   m.Version.Firmware,
		APIVersion: m.Version.API,
		Commands:   m.API.Commands(),
		Chips:      m.Profile.Hardware.NominalChips(),
		Fans:       m.Profile.Hardware.Fans,
		ResolvedAt: m.ResolvedAt,
	}
}

// Remote opens the shell capability of this miner. Nil credentials fall back
// to the family defaults.
func (m *Miner) Remote(creds *remote.Credentials) (*remote.Client, error) {
	ssh := m.Profile.SSH
	if creds == nil {
		if !ssh.Enabled() {
			return nil, fmt.Errorf("%s: %w", m.Family, remote.ErrNotSupported)
		}
		creds = &remote.Credentials{
			Username: ssh.Username,
			Password: ssh.Password,
			Port:     ssh.Port,
		}
	}
	return remote.NewClient(m.Address.Host, *creds, 0, m.logger), nil
}

// Reboot power-cycles the control board over SSH.
func (m *Miner) Reboot(ctx context.Context, creds *remote.Credentials) error {
	command := m.Profile.SSH.RebootCommand
	if command == "" {
		return fmt.Errorf("%s reboot: %w", m.Family, remote.ErrNotSupported)
	}
	return m.runRemote(ctx, creds, command)
}

// RestartBackend restarts the mining process, over SSH when the family has a
// restart command and through the API "restart" command otherwise.
func (m *Miner) RestartBackend(ctx context.Context, creds *remote.Credentials) error {
	return m.remoteOrAPI(ctx, creds, "restart", m.Profile.SSH.RestartCommand, "restart")
}

// StopMining halts hashing without rebooting, over SSH or the API "pause"
// command depending on the family.
func (m *Miner) StopMining(ctx context.Context, creds *remote.Credentials) error {
	return m.remoteOrAPI(ctx, creds, "stop mining", m.Profile.SSH.StopMiningCommand, "pause")
}

// ResumeMining undoes StopMining.
func (m *Miner) ResumeMining(ctx context.Context, creds *remote.Credentials) error {
	return m.remoteOrAPI(ctx, creds, "resume mining", m.Profile.SSH.ResumeMiningCommand, "resume")
}

// FaultLight switches the locate LED of the control board.
func (m *Miner) FaultLight(ctx context.Context, creds *remote.Credentials, on bool) error {
	command := m.Profile.SSH.FaultLightOffCommand
	if on {
		command = m.Profile.SSH.FaultLightOnCommand
	}
	if command == "" {
		return fmt.Errorf("%s fault light: %w", m.Family, remote.ErrNotSupported)
	}
	return m.runRemote(ctx, creds, command)
}

// Hostname reads the configured hostname over SSH.
func (m *Miner) Hostname(ctx context.Context, creds *remote.Credentials) (string, error) {
	command := m.Profile.SSH.HostnameCommand
	if command == "" {
		return "", fmt.Errorf("%s hostname: %w", m.Family, remote.ErrNotSupported)
	}

	result, err := m.remoteOutput(ctx, creds, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Model returns the hardware model from "devdetails", falling back to the
// type reported by the version probe.
func (m *Miner) Model(ctx context.Context) (string, error) {
	var lastErr error
	if m.API.Supports("devdetails") {
		resp, err := m.API.SendCommand(ctx, minerapi.Cmd("devdetails"))
		if err == nil {
			if details := resp.Section("DEVDETAILS"); len(details) > 0 {
				if model := stringValue(details[0]["Model"]); model != "" {
					return strings.TrimPrefix(model, "Antminer "), nil
				}
			}
		}
		lastErr = err
	}

	if m.Version.Type != "" {
		return strings.TrimPrefix(m.Version.Type, "Antminer "), nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%s model: %w", m.Family, remote.ErrNotSupported)
}

// ReadConfig returns the raw firmware configuration file.
func (m *Miner) ReadConfig(ctx context.Context, creds *remote.Credentials) ([]byte, error) {
	path := m.Profile.SSH.ConfigPath
	if path == "" {
		return nil, fmt.Errorf("%s config: %w", m.Family, remote.ErrNotSupported)
	}

	client, err := m.Remote(creds)
	if err != nil {
		return nil, err
	}
	return client.ReadFile(ctx, path)
}

func (m *Miner) remoteOrAPI(ctx context.Context, creds *remote.Credentials, action, command, apiCommand string) error {
	if command != "" {
		return m.runRemote(ctx, creds, command)
	}
	if m.API.Supports(apiCommand) {
		_, err := m.API.SendCommand(ctx, minerapi.Cmd(apiCommand))
		return err
	}
	return fmt.Errorf("%s %s: %w", m.Family, action, remote.ErrNotSupported)
}

func (m *Miner) remoteOutput(ctx context.Context, creds *remote.Credentials, command string) (remote.Result, error) {
	client, err := m.Remote(creds)
	if err != nil {
		return remote.Result{}, err
	}

	result, err := client.Run(ctx, command)
	if err != nil {
		return result, err
	}
	if result.ExitStatus != 0 {
		return result, fmt.Errorf("%q exited with status %d: %s",
			command, result.ExitStatus, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// runRemote treats a dropped connection as success since reboots and
// restarts usually end that way.
func (m *Miner) runRemote(ctx context.Context, creds *remote.Credentials, command string) error {
	if _, err := m.remoteOutput(ctx, creds, command); err != nil {
		if remote.IsDisconnect(err) {
			return nil
		}
		return err
	}

	m.logger.Info("Remote command executed",
		zap.String("miner", m.Address.String()),
		zap.String("command", command))
	return nil
}

func extractVersion(firmwareKey string, resp minerapi.Response) VersionInfo {
	var info VersionInfo
	if resp == nil {
		return info
	}

	if versions := resp.Section("VERSION"); len(versions) > 0 {
		v := versions[0]
		info.API = stringValue(v["API"])
		info.Type = stringValue(v["Type"])
		if firmwareKey != "" {
			info.Firmware = stringValue(v[firmwareKey])
		}
		if info.Firmware == "" {
			for _, key := range []string{"BOSminer+", "BOSminer", "BTMiner", "CGMiner", "BMMiner", "Miner"} {
				if s := stringValue(v[key]); s != "" {
					info.Firmware = s
					break
				}
			}
		}
		return info
	}

	if msg, ok := resp["Msg"].(map[string]any); ok {
		info.API = stringValue(msg["api_ver"])
		info.Firmware = stringValue(msg["fw_ver"])
		info.Type = stringValue(msg["platform"])
	}
	return info
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// IsNotSupported reports whether err stems from a capability the family lacks.
func IsNotSupported(err error) bool {
	return errors.Is(err, remote.ErrNotSupported)
}
