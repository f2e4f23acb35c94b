package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (configDir, cacheDir string) {
	t.Helper()
	root := t.TempDir()
	configDir = filepath.Join(root, "config")
	cacheDir = filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(
		"cache:\n"+
			"  dir: "+cacheDir+"\n"+
			"  data_dir: "+filepath.Join(root, "data")+"\n"+
			"device:\n"+
			"  file: "+filepath.Join(configDir, "device_config.ini")+"\n"+
			"logging:\n"+
			"  file: \"-\"\n"+
			"  level: error\n"), 0644))
	return configDir, cacheDir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "marquee dev\n", execute(t, "version"))
}

func TestCacheListFilters(t *testing.T) {
	configDir, cacheDir := writeConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "spring-promo"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "banner.jpg"), []byte("img"), 0644))

	out := execute(t, "--config", configDir, "cache", "ls")
	assert.Contains(t, out, "banner.jpg")
	assert.Contains(t, out, "spring-promo")

	out = execute(t, "--config", configDir, "cache", "ls", "banr")
	assert.Contains(t, out, "banner.jpg")
	assert.NotContains(t, out, "spring-promo")
}

func TestCacheCleanKeepsRecentEntries(t *testing.T) {
	configDir, cacheDir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "fresh.mp4"), []byte("v"), 0644))

	out := execute(t, "--config", configDir, "cache", "clean")
	assert.Equal(t, "removed 0, kept 1 recent, failed 0\n", out)
	assert.FileExists(t, filepath.Join(cacheDir, "fresh.mp4"))
}

func TestDeviceSerialRoundTrip(t *testing.T) {
	configDir, _ := writeConfig(t)
	t.Setenv("MARQUEE_DEVICE_SERIAL", "")

	execute(t, "--config", configDir, "device", "serial", "SN-77")
	assert.Equal(t, "SN-77\n", execute(t, "--config", configDir, "device", "serial"))
}
