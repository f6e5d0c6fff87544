package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availproject/avail-nitro-adapter/programs/multicall"
	"github.com/availproject/avail-nitro-adapter/types"
)

func TestParseCall(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000aa"

	call, err := parseCall("staticcall:" + addr + ":0xcafe")
	require.NoError(t, err)
	assert.Equal(t, multicall.KindStaticCall, call.Kind)
	assert.Equal(t, types.Address{19: 0xaa}, call.Address)
	assert.Equal(t, []byte{0xca, 0xfe}, call.Data)

	call, err = parseCall("call:" + addr + "::0x10")
	require.NoError(t, err)
	assert.Equal(t, multicall.KindCallWithValue, call.Kind)
	assert.Equal(t, types.Bytes32{31: 0x10}, call.Value)
	assert.Empty(t, call.Data)

	for _, bad := range []string{
		"staticcall",
		"jump:" + addr,
		"call:0x12",
		"staticcall:" + addr + ":zz",
		"delegatecall:" + addr + "::0x1",
		"call:" + addr + ":0x:0x1:extra",
	} {
		_, err := parseCall(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
db = "/tmp/world.db"

[engine]
cache_size = 8
memory_limit_pages = 32
debug = true

[program]
version = 1

[program.depth]
max_depth = 64

[program.pricing]
ink_price = 100
hostio_ink = 5

[log]
level = "debug"
format = "json"
`), 0644))

	config := defaultConfig()
	require.NoError(t, loadConfig(file, &config))
	require.NoError(t, validateConfig(&config))

	assert.Equal(t, "/tmp/world.db", config.DB)
	assert.Equal(t, 8, config.Engine.CacheSize)
	assert.Equal(t, uint32(32), config.Engine.MemoryLimitPages)
	assert.True(t, config.Engine.Debug)
	assert.Equal(t, types.NewConfig(1, 64, 100, 5), config.Program)
	assert.Equal(t, "json", config.Log.Format)
	// untouched fields keep their defaults
	assert.Equal(t, defaultConfig().Multicall, config.Multicall)
}

func TestLoadConfigErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(file, []byte("db = 5\n"), 0644))
	config := defaultConfig()
	require.Error(t, loadConfig(file, &config))

	assert.Error(t, loadConfig(filepath.Join(t.TempDir(), "missing.toml"), &config))
}

func TestValidateConfig(t *testing.T) {
	config := defaultConfig()
	require.NoError(t, validateConfig(&config))

	config.Program.Version = 2
	assert.Error(t, validateConfig(&config))

	config = defaultConfig()
	config.Program.Pricing.InkPrice = 0
	assert.Error(t, validateConfig(&config))

	config = defaultConfig()
	config.Multicall = "nope"
	assert.Error(t, validateConfig(&config))
}
