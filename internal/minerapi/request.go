package minerapi

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the cgminer-style API port every supported firmware listens on.
const DefaultPort = 4028

// CommandSeparator joins command names into one aggregated request.
const CommandSeparator = "+"

// Address identifies a miner API endpoint. It is comparable and used as cache key.
type Address struct {
	Host string
	Port int
}

// NewAddress returns host:port, falling back to DefaultPort for port <= 0.
func NewAddress(host string, port int) Address {
	if port <= 0 {
		port = DefaultPort
	}
	return Address{Host: host, Port: port}
}

// ParseAddress accepts "host" or "host:port".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// Kein Port angegeben
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			return NewAddress(ip.String(), DefaultPort), nil
		}
		if strings.Contains(s, ":") {
			return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return NewAddress(s, DefaultPort), nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port in address %q", s)
	}
	if host == "" {
		return Address{}, fmt.Errorf("missing host in address %q", s)
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}

	return NewAddress(host, port), nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Command is one API command with an optional parameter.
type Command struct {
	Name      string
	Parameter any
}

// Cmd is shorthand for a command without parameter.
func Cmd(name string) Command {
	return Command{Name: name}
}

// IsAggregated reports whether the command joins several names.
func (c Command) IsAggregated() bool {
	return strings.Contains(c.Name, CommandSeparator)
}

// Names splits an aggregated command into its parts.
func (c Command) Names() []string {
	return strings.Split(c.Name, CommandSeparator)
}

type request struct {
	Command   string `json:"command"`
	Parameter any    `json:"parameter,omitempty"`
}

// Encode serializes the command into the wire request object.
func (c Command) Encode() ([]byte, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	req := request{Command: c.Name}
	if c.Parameter != nil {
		switch p := c.Parameter.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
			req.Parameter = p
		default:
			return nil, fmt.Errorf("unsupported parameter type %T for command %s", c.Parameter, c.Name)
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return data, nil
}
