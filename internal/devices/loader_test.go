package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfilesAreValid(t *testing.T) {
	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	families := loader.Families()
	assert.Equal(t, []string{"bmminer", "bosminer", "btminer", "cgminer", "unknown"}, families)

	for _, family := range families {
		profile, err := loader.Load(family)
		require.NoError(t, err, family)
		assert.Equal(t, family, profile.Profile.Family)
		assert.Contains(t, profile.API.Commands, "summary", family)
	}
}

func TestLoaderSearchPathOverrides(t *testing.T) {
	dir := t.TempDir()
	override := `{
		"miner_profile": {"family": "cgminer", "vendor": "Canaan"},
		"api": {"split_aggregates": false, "commands": ["version", "summary"]}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgminer.json"), []byte(override), 0o644))

	custom := `{
		"miner_profile": {"family": "luxminer", "vendor": "Luxor"},
		"api": {"commands": ["version", "summary", "pools"]}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "luxminer.json"), []byte(custom), 0o644))

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	profile, err := loader.Load("cgminer")
	require.NoError(t, err)
	assert.Equal(t, "Canaan", profile.Profile.Vendor)
	assert.False(t, profile.API.SplitAggregates)

	cached, err := loader.Load("cgminer")
	require.NoError(t, err)
	assert.Same(t, profile, cached)

	loader.ClearCache()
	reloaded, err := loader.Load("cgminer")
	require.NoError(t, err)
	assert.NotSame(t, profile, reloaded)

	assert.Contains(t, loader.Families(), "luxminer")
	lux, err := loader.Load("luxminer")
	require.NoError(t, err)
	assert.Equal(t, []string{"version", "summary", "pools"}, lux.API.Commands)
}

func TestLoaderRejectsInvalidProfiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"nocommands.json": `{"miner_profile": {"family": "nocommands", "vendor": "X"}, "api": {}}`,
		"mismatch.json":   `{"miner_profile": {"family": "other", "vendor": "X"}, "api": {"commands": []}}`,
		"extra.json":      `{"miner_profile": {"family": "extra", "vendor": "X"}, "api": {"commands": []}, "foo": 1}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	for _, family := range []string{"nocommands", "mismatch", "extra"} {
		_, err := loader.Load(family)
		assert.Error(t, err, family)
	}

	_, err = loader.Load("antminer-s21")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = loader.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestLoaderRegisterOverride(t *testing.T) {
	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	builtin, err := loader.Load("bmminer")
	require.NoError(t, err)

	custom := *builtin
	custom.Profile.Vendor = "Bitmain (lab)"
	custom.API.Commands = []string{"version", "summary", "pools"}
	require.NoError(t, loader.Register(&custom))

	got, err := loader.Load("bmminer")
	require.NoError(t, err)
	assert.Equal(t, "Bitmain (lab)", got.Profile.Vendor)
	assert.Equal(t, []string{"version", "summary", "pools"}, got.API.Commands)

	loader.ClearCache()
	got, err = loader.Load("bmminer")
	require.NoError(t, err)
	assert.Equal(t, "Bitmain (lab)", got.Profile.Vendor)

	fresh := &types.MinerProfile{
		Profile: types.MinerProfileInfo{Family: "luxminer", Vendor: "Luxor"},
		API:     types.APIConfig{Commands: []string{"version", "summary"}},
	}
	require.NoError(t, loader.Register(fresh))
	assert.Contains(t, loader.Families(), "luxminer")

	invalid := []*types.MinerProfile{
		{Profile: types.MinerProfileInfo{Family: "Bad Family", Vendor: "X"}, API: types.APIConfig{Commands: []string{}}},
		{Profile: types.MinerProfileInfo{Family: "novendor"}, API: types.APIConfig{Commands: []string{}}},
		{Profile: types.MinerProfileInfo{Family: "nocommands", Vendor: "X"}},
		{Profile: types.MinerProfileInfo{Family: "badport", Vendor: "X"}, API: types.APIConfig{Port: 70000, Commands: []string{}}},
	}
	for _, profile := range invalid {
		assert.Error(t, loader.Register(profile), profile.Profile.Family)
	}
	_, err = loader.Load("nocommands")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
