package devices

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenMinerCore/internal/types"
)

//go:embed profiles/*.json
var builtinProfiles embed.FS

// FamilyUnknown is the profile used for reachable devices that match no marker.
const FamilyUnknown = "unknown"

var ErrProfileNotFound = errors.New("profile not found")

// ProfileLoader reads family profiles from registered overrides, the search
// paths and the built-in set, in that order, so operators can override a
// family without a rebuild.
type ProfileLoader struct {
	cache       sync.Map
	overrides   sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *ProfileLoader) Load(family string) (*types.MinerProfile, error) {
	if override, ok := l.overrides.Load(family); ok {
		return override.(*types.MinerProfile), nil
	}

	// Cache-Check
	if cached, ok := l.cache.Load(family); ok {
		return cached.(*types.MinerProfile), nil
	}

	data, source, err := l.read(family)
	if err != nil {
		return nil, err
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}

	var profile types.MinerProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	if profile.Profile.Family != family {
		return nil, fmt.Errorf("profile %s declares family %q", source, profile.Profile.Family)
	}

	l.cache.Store(family, &profile)

	return &profile, nil
}

// Register validates profile and serves it for its family until the process
// exits. Miners resolved earlier keep the profile they were built with.
func (l *ProfileLoader) Register(profile *types.MinerProfile) error {
	if err := l.validator.ValidateMinerProfile(profile); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	stored := *profile
	stored.API.Commands = append([]string(nil), profile.API.Commands...)
	l.overrides.Store(stored.Profile.Family, &stored)
	return nil
}

func (l *ProfileLoader) read(family string) ([]byte, string, error) {
	if strings.ContainsAny(family, `/\.`) || family == "" {
		return nil, "", fmt.Errorf("%w: invalid family name %q", ErrProfileNotFound, family)
	}

	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, family+".json")
		data, err := os.ReadFile(fullPath)
		if err == nil {
			return data, fullPath, nil
		}
	}

	builtinPath := "profiles/" + family + ".json"
	data, err := builtinProfiles.ReadFile(builtinPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s (searched in: %v and built-in profiles)",
			ErrProfileNotFound, family, l.searchPaths)
	}
	return data, builtinPath, nil
}

// Families lists every family tag with a profile, built-in or on disk.
func (l *ProfileLoader) Families() []string {
	seen := make(map[string]struct{})

	entries, _ := fs.Glob(builtinProfiles, "profiles/*.json")
	for _, entry := range entries {
		seen[strings.TrimSuffix(filepath.Base(entry), ".json")] = struct{}{}
	}

	for _, searchPath := range l.searchPaths {
		matches, _ := filepath.Glob(filepath.Join(searchPath, "*.json"))
		for _, match := range matches {
			seen[strings.TrimSuffix(filepath.Base(match), ".json")] = struct{}{}
		}
	}

	l.overrides.Range(func(key, _ interface{}) bool {
		seen[key.(string)] = struct{}{}
		return true
	})

	families := make([]string, 0, len(seen))
	for family := range seen {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
