package devices

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"gopkg.in/yaml.v3"
)

//go:embed markers.yaml
var defaultMarkersYAML []byte

// Marker maps one observable trait of a version reply to a firmware family.
// Exactly one of VersionKey, MsgKey or Description is set.
type Marker struct {
	Family      string `yaml:"family" json:"family"`
	VersionKey  string `yaml:"version_key,omitempty" json:"version_key,omitempty"`
	MsgKey      string `yaml:"msg_key,omitempty" json:"msg_key,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type markerFile struct {
	Markers []Marker `yaml:"markers"`
}

func (m Marker) validate() error {
	if m.Family == "" {
		return fmt.Errorf("marker without family")
	}
	set := 0
	for _, v := range []string{m.VersionKey, m.MsgKey, m.Description} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("marker for %s must set exactly one of version_key, msg_key, description", m.Family)
	}
	return nil
}

// Matches reports whether the version reply carries this marker.
func (m Marker) Matches(resp minerapi.Response) bool {
	switch {
	case m.VersionKey != "":
		versions := resp.Section("VERSION")
		if len(versions) == 0 {
			return false
		}
		_, ok := versions[0][m.VersionKey]
		return ok
	case m.MsgKey != "":
		msg, ok := resp["Msg"].(map[string]any)
		if !ok {
			return false
		}
		_, ok = msg[m.MsgKey]
		return ok
	case m.Description != "":
		statuses := resp.Section("STATUS")
		if len(statuses) == 0 {
			return false
		}
		desc, _ := statuses[0]["Description"].(string)
		return strings.Contains(strings.ToLower(desc), strings.ToLower(m.Description))
	}
	return false
}

// Registry is the ordered list of family markers. Immutable after construction.
type Registry struct {
	markers []Marker
}

// ParseMarkers decodes a YAML marker document.
func ParseMarkers(data []byte) ([]Marker, error) {
	var file markerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse markers: %w", err)
	}
	for i, marker := range file.Markers {
		if err := marker.validate(); err != nil {
			return nil, fmt.Errorf("marker %d: %w", i, err)
		}
	}
	return file.Markers, nil
}

// NewRegistry loads the built-in markers and appends those of every extra file.
func NewRegistry(extraFiles []string) (*Registry, error) {
	markers, err := ParseMarkers(defaultMarkersYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in markers: %w", err)
	}

	for _, path := range extraFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read marker file %s: %w", path, err)
		}
		extra, err := ParseMarkers(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		markers = append(markers, extra...)
	}

	return &Registry{markers: markers}, nil
}

// NewRegistryFromMarkers builds a registry from an explicit marker list.
func NewRegistryFromMarkers(markers ...Marker) (*Registry, error) {
	for i, marker := range markers {
		if err := marker.validate(); err != nil {
			return nil, fmt.Errorf("marker %d: %w", i, err)
		}
	}
	return &Registry{markers: append([]Marker(nil), markers...)}, nil
}

// Classify returns the family of the first matching marker, or FamilyUnknown.
func (r *Registry) Classify(resp minerapi.Response) string {
	if resp == nil {
		return FamilyUnknown
	}
	for _, marker := range r.markers {
		if marker.Matches(resp) {
			return marker.Family
		}
	}
	return FamilyUnknown
}

func (r *Registry) Markers() []Marker {
	return append([]Marker(nil), r.markers...)
}

// Families returns the distinct families in marker order.
func (r *Registry) Families() []string {
	seen := make(map[string]struct{})
	var families []string
	for _, marker := range r.markers {
		if _, ok := seen[marker.Family]; ok {
			continue
		}
		seen[marker.Family] = struct{}{}
		families = append(families, marker.Family)
	}
	return families
}
