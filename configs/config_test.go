package configs

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chenxilol/echohub/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
connector:
  host: "ws://example.test:6001/ws"
  namespace: "App.Events"
  protocols: ["echohub.v1"]
  transport:
    ping_interval: 5s
  options:
    cluster: "eu"
    tls: true
auth:
  enabled: true
  secret_key: "s3cret"
  user_id: "42"
relay:
  enabled: true
  bus_type: redis
  topic_prefix: "events."
  redis:
    addrs: ["127.0.0.1:6380"]
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://example.test:6001/ws", cfg.Connector.Host)
	assert.Equal(t, "App.Events", cfg.Connector.Namespace)
	assert.Equal(t, []string{"echohub.v1"}, cfg.Connector.Protocols)
	assert.Equal(t, 5*time.Second, cfg.Connector.Transport.PingInterval)
	// 未出现在文件中的字段保持默认值
	assert.Equal(t, 10*time.Second, cfg.Connector.Transport.WriteTimeout)
	assert.Equal(t, "eu", cfg.Connector.Options["cluster"])
	assert.Equal(t, true, cfg.Connector.Options["tls"])

	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "echohub", cfg.Auth.Issuer)
	assert.Equal(t, BusRedis, cfg.Relay.BusType)
	assert.Equal(t, []string{"127.0.0.1:6380"}, cfg.Relay.Redis.Addrs)
	assert.Equal(t, "echohub:", cfg.Relay.Redis.KeyPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":6001", cfg.Server.Addr)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), cfg)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("ECHOHUB_CONNECTOR_HOST", "ws://env.test/ws")
	t.Setenv("ECHOHUB_RELAY_BUS_TYPE", "nats")
	t.Setenv("ECHOHUB_AUTH_ENABLED", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ws://env.test/ws", cfg.Connector.Host)
	assert.Equal(t, BusNATS, cfg.Relay.BusType)
	assert.True(t, cfg.Auth.Enabled)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown bus", "relay:\n  bus_type: kafka\n"},
		{"bad user info", "auth:\n  user_info: \"{not json\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestConnectorOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Connector.Host = "localhost:6001/ws"
	cfg.Connector.Namespace = "App"
	cfg.Connector.Options = map[string]any{"cluster": "eu"}

	opts := cfg.ConnectorOptions()
	assert.Equal(t, "localhost:6001/ws", opts.Host)
	assert.Equal(t, "App", opts.Namespace)
	assert.Equal(t, "eu", opts.Extra["cluster"])
	assert.Nil(t, opts.Authorizer)

	cfg.Auth.Enabled = true
	cfg.Auth.UserID = "7"
	opts = cfg.ConnectorOptions()
	require.NotNil(t, opts.Authorizer)

	raw, err := opts.Authorizer.Authorize(t.Context(), "sock", "presence-room")
	require.NoError(t, err)
	payload, err := auth.ParseSubscribePayload(raw)
	require.NoError(t, err)
	require.NotNil(t, payload.ChannelData)
	assert.Equal(t, "7", payload.ChannelData.UserID)
	assert.JSONEq(t, `{"id":"7"}`, string(payload.ChannelData.UserInfo))
}

func TestRelayConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	rc := cfg.RelayConfig()
	assert.Equal(t, "echohub.", rc.TopicPrefix)
	assert.Equal(t, 2*time.Second, rc.PublishTimeout)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestLoadAndWatch_ReloadsLogLevel(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	var level slog.LevelVar
	changed := make(chan Config, 4)
	cfg, err := LoadAndWatch(path, &level, func(c Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, slog.LevelInfo, level.Level())

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	require.Eventually(t, func() bool {
		return level.Level() == slog.LevelDebug
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.Log.Level)
	case <-time.After(time.Second):
		t.Fatal("onChange not called")
	}
}

func TestAuthorizerUsesUserInfo(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.UserID = "9"
	cfg.Auth.UserInfo = `{"name":"nine"}`

	raw, err := cfg.Authorizer().Authorize(t.Context(), "sock", "presence-lobby")
	require.NoError(t, err)

	var p struct {
		ChannelData struct {
			UserInfo json.RawMessage `json:"user_info"`
		} `json:"channel_data"`
	}
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.JSONEq(t, `{"name":"nine"}`, string(p.ChannelData.UserInfo))
}
