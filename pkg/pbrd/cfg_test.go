package pbrd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pbrd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  addr: "127.0.0.1:9000"
nexthop_groups:
  - name: gw
    table: 250
    nexthops: 2
maps:
  - name: prod
    sequences:
      - seq: 10
        match_src: 10.0.0.0/24
        nexthop_group: gw
      - seq: 20
        match_dst: 192.0.2.0/28
        nexthop:
          gateway: 192.0.2.1
          interface: eth0
interfaces:
  - interface: eth0
    map: prod
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.API.Addr)
	require.Equal(t, zapcore.InfoLevel, cfg.Logging.Level)

	require.Equal(t, []NexthopGroupConfig{{Name: "gw", Table: 250, Nexthops: 2}}, cfg.NexthopGroups)
	require.Len(t, cfg.Maps, 1)
	require.Equal(t, "prod", cfg.Maps[0].Name)
	require.Len(t, cfg.Maps[0].Sequences, 2)
	require.Equal(t, "10.0.0.0/24", cfg.Maps[0].Sequences[0].MatchSrc)
	require.Equal(t, "gw", cfg.Maps[0].Sequences[0].NexthopGroup)
	require.NotNil(t, cfg.Maps[0].Sequences[1].Nexthop)
	require.Equal(t, "192.0.2.1", cfg.Maps[0].Sequences[1].Nexthop.Gateway)
	require.Equal(t, []BindingConfig{{Interface: "eth0", Map: "prod"}}, cfg.Interfaces)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for name, content := range map[string]string{
		"bad listen address": `
api:
  addr: "not an address"
`,
		"bad match prefix": `
maps:
  - name: prod
    sequences:
      - seq: 10
        match_src: not-a-cidr
`,
		"bad gateway": `
maps:
  - name: prod
    sequences:
      - seq: 10
        nexthop:
          gateway: nowhere
`,
		"zero seqno": `
maps:
  - name: prod
    sequences:
      - seq: 0
        match_src: 10.0.0.0/24
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
