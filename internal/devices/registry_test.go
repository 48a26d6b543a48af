package devices

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(t *testing.T, text string) minerapi.Response {
	t.Helper()
	var resp minerapi.Response
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	return resp
}

func TestClassify(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	tests := []struct {
		version string
		family  string
	}{
		{bosminerVersion, "bosminer"},
		{`{"STATUS":[{"STATUS":"S"}],"VERSION":[{"BOSminer":"0.1","API":"3.7"}]}`, "bosminer"},
		{bmminerVersion, "bmminer"},
		{cgminerVersion, "cgminer"},
		{btminerVersion, "btminer"},
		{foreignVersion, FamilyUnknown},
		{`{"STATUS":[{"STATUS":"S","Description":"cgminer 4.9.2"}]}`, "cgminer"},
		{`{"STATUS":[{"STATUS":"S"}],"VERSION":[]}`, FamilyUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.family, registry.Classify(response(t, tt.version)), tt.version)
	}
	assert.Equal(t, FamilyUnknown, registry.Classify(nil))
}

func TestRegistryAppendsExtraFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
markers:
  - family: sgminer
    version_key: SGMiner
`), 0o644))

	registry, err := NewRegistry([]string{path})
	require.NoError(t, err)

	assert.Equal(t, "sgminer", registry.Classify(response(t, foreignVersion)))
	assert.Equal(t, "sgminer", registry.Families()[len(registry.Families())-1])
	assert.Equal(t, "bosminer", registry.Families()[0])
}

func TestRegistryRejectsInvalidMarkers(t *testing.T) {
	_, err := ParseMarkers([]byte("markers:\n  - family: x\n"))
	assert.Error(t, err)

	_, err = ParseMarkers([]byte("markers:\n  - version_key: Foo\n"))
	assert.Error(t, err)

	_, err = ParseMarkers([]byte("markers:\n  - family: x\n    version_key: A\n    msg_key: B\n"))
	assert.Error(t, err)

	_, err = NewRegistry([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRegistryFromMarkersOrder(t *testing.T) {
	registry, err := NewRegistryFromMarkers(
		Marker{Family: "first", Description: "miner"},
		Marker{Family: "second", VersionKey: "CGMiner"},
	)
	require.NoError(t, err)
	assert.Equal(t, "first", registry.Classify(response(t, cgminerVersion)))
}
