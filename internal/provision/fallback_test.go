package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFallbacks_Lookup(t *testing.T) {
	table := DefaultFallbacks()

	reboot := table.Lookup(TriggerHTTPError, "REBOOT")
	require.Len(t, reboot, 7)
	assert.Equal(t, "POST /reboot (empty JSON)", reboot[0].Label)
	assert.Equal(t, "GET /reboot", reboot[6].Label)
	assert.Nil(t, reboot[6].payload())

	assert.Nil(t, table.Lookup(TriggerHTTPError, "startap"))

	startap := table.Lookup(TriggerReset, "startap")
	require.Len(t, startap, 5)
	assert.Equal(t, "POST /control json cmd=startap", startap[2].Label)

	generic := table.Lookup(TriggerReset, "stopap")
	require.Len(t, generic, 3)
	assert.Equal(t, "POST /stopap (empty JSON)", generic[0].Label)
	assert.Equal(t, "/stopap", generic[1].Path)
	assert.Equal(t, "action=stopap", generic[2].Body)

	assert.Nil(t, table.Lookup(TriggerReset, "blink"))

	// 查表忽略大小写，展开保留原样
	mixed := table.Lookup(TriggerReset, "StopAP")
	require.Len(t, mixed, 3)
	assert.Equal(t, "POST /StopAP (empty JSON)", mixed[0].Label)
	assert.Equal(t, "/StopAP", mixed[1].Path)
	assert.Equal(t, "action=StopAP", mixed[2].Body)
}

func TestLoadFallbacks_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallbacks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
reset:
  disconnect:
    - method: get
      path: /wifi/disconnect
reset_actions: [reboot, startap, disconnect, stopap, factory]
`), 0o600))

	table, err := LoadFallbacks(path)
	require.NoError(t, err)

	seq := table.Lookup(TriggerReset, "disconnect")
	require.Len(t, seq, 1)
	assert.Equal(t, "GET /wifi/disconnect", seq[0].Label)
	assert.Equal(t, "GET", seq[0].Method)

	// 未覆盖的保持默认
	assert.Len(t, table.Lookup(TriggerHTTPError, "reboot"), 7)
	assert.Len(t, table.Lookup(TriggerReset, "factory"), 3)
}

func TestLoadFallbacks_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_error:\n  reboot:\n    - method: DELETE\n      path: /x\n"), 0o600))
	_, err := LoadFallbacks(path)
	assert.Error(t, err)

	_, err = LoadFallbacks(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	table, err := LoadFallbacks("")
	require.NoError(t, err)
	assert.Len(t, table.Lookup(TriggerHTTPError, "reboot"), 7)
}
