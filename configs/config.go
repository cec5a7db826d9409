package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chenxilol/echohub/internal/devserver"
	"github.com/chenxilol/echohub/internal/websocket"
	"github.com/chenxilol/echohub/pkg/auth"
	"github.com/chenxilol/echohub/pkg/bus/nats"
	"github.com/chenxilol/echohub/pkg/bus/redis"
	"github.com/chenxilol/echohub/pkg/connector"
	"github.com/chenxilol/echohub/pkg/relay"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"log/slog"
)

// 总线类型
const (
	BusNATS  = "nats"
	BusRedis = "redis"
	BusNoop  = "noop"
)

var ErrUnknownBusType = errors.New("unknown bus type")

type Connector struct {
	Host        string           `mapstructure:"host"`
	Protocols   []string         `mapstructure:"protocols"`
	Namespace   string           `mapstructure:"namespace"`
	AuthTimeout time.Duration    `mapstructure:"auth_timeout"`
	Transport   websocket.Config `mapstructure:"transport"`
	// 未识别的连接参数，原样传给拨号器
	Options map[string]any `mapstructure:"options"`
}

type Auth struct {
	Enabled   bool          `mapstructure:"enabled"`
	SecretKey string        `mapstructure:"secret_key"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	UserID    string        `mapstructure:"user_id"`
	UserInfo  string        `mapstructure:"user_info"` // JSON文本，为空时使用{"id":user_id}
}

type Relay struct {
	Enabled        bool          `mapstructure:"enabled"`
	BusType        string        `mapstructure:"bus_type"` // 消息总线类型: "nats", "redis", "noop"
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	NATS           nats.Config   `mapstructure:"nats"`
	Redis          redis.Config  `mapstructure:"redis"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"` // 为空时不启动/metrics
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Connector Connector        `mapstructure:"connector"`
	Auth      Auth             `mapstructure:"auth"`
	Relay     Relay            `mapstructure:"relay"`
	Server    devserver.Config `mapstructure:"server"`
	Metrics   Metrics          `mapstructure:"metrics"`
	Log       Log              `mapstructure:"log"`
	Version   string           `mapstructure:"version"`
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	config := Config{}

	// 连接器默认配置
	config.Connector.Host = "ws://localhost:6001/ws"
	config.Connector.AuthTimeout = 10 * time.Second
	config.Connector.Transport = websocket.DefaultConfig()

	// 认证默认配置
	config.Auth.Enabled = false
	config.Auth.SecretKey = "changeme"
	config.Auth.Issuer = "echohub"
	config.Auth.TokenTTL = time.Hour

	// 转发默认配置
	rc := relay.DefaultConfig()
	config.Relay.Enabled = false
	config.Relay.BusType = BusNoop
	config.Relay.TopicPrefix = rc.TopicPrefix
	config.Relay.PublishTimeout = rc.PublishTimeout
	config.Relay.NATS = nats.DefaultConfig()
	config.Relay.Redis = redis.DefaultConfig()

	// 开发服务器默认配置
	config.Server = devserver.DefaultConfig()

	config.Metrics.Addr = ""
	config.Log.Level = "info"
	config.Version = "dev"

	return config
}

// envKeys 可以只通过环境变量设置的配置项
var envKeys = []string{
	"connector.host",
	"connector.namespace",
	"auth.enabled",
	"auth.secret_key",
	"auth.issuer",
	"auth.user_id",
	"auth.user_info",
	"relay.enabled",
	"relay.bus_type",
	"relay.topic_prefix",
	"server.addr",
	"server.auth_secret",
	"metrics.addr",
	"log.level",
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// 支持环境变量，例如 ECHOHUB_CONNECTOR_HOST
	v.SetEnvPrefix("ECHOHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// decode 在默认配置之上覆盖文件和环境变量中的值
func decode(v *viper.Viper) (Config, error) {
	config := NewDefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return NewDefaultConfig(), err
	}
	if err := config.Validate(); err != nil {
		return NewDefaultConfig(), err
	}
	return config, nil
}

// LoadConfig loads configuration from the specified file
// 文件为空或读取失败时使用默认配置，环境变量依然生效
func LoadConfig(configFile string) (Config, error) {
	config, _, err := load(configFile)
	return config, err
}

func load(configFile string) (Config, *viper.Viper, error) {
	v := newViper(configFile)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("failed to read config file, using defaults", "file", configFile, "error", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return config, v, fmt.Errorf("load config: %w", err)
	}
	return config, v, nil
}

// LoadAndWatch 加载配置并监听文件变化，变化后重新设置日志级别并回调onChange
func LoadAndWatch(configFile string, level *slog.LevelVar, onChange func(Config)) (Config, error) {
	config, v, err := load(configFile)
	if err != nil {
		return config, err
	}
	if level != nil {
		level.Set(ParseLogLevel(config.Log.Level))
	}
	if configFile != "" {
		SetupConfigHotReload(v, level, onChange)
	}
	return config, nil
}

// SetupConfigHotReload sets up hot reload for the configuration file
func SetupConfigHotReload(v *viper.Viper, level *slog.LevelVar, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config file changed", "file", e.Name, "op", e.Op.String())

		config, err := decode(v)
		if err != nil {
			slog.Error("failed to unmarshal updated config", "error", err)
			return
		}

		if level != nil {
			level.Set(ParseLogLevel(config.Log.Level))
		}
		if onChange != nil {
			onChange(config)
		}

		slog.Info("config reloaded successfully", "log_level", config.Log.Level)
	})
	v.WatchConfig()
}

// Validate 检查配置的取值范围
func (c Config) Validate() error {
	switch strings.ToLower(c.Relay.BusType) {
	case BusNATS, BusRedis, BusNoop, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBusType, c.Relay.BusType)
	}
	if c.Auth.UserInfo != "" && !json.Valid([]byte(c.Auth.UserInfo)) {
		return fmt.Errorf("auth.user_info is not valid JSON")
	}
	return nil
}

// ConnectorOptions 由配置生成连接器参数
func (c Config) ConnectorOptions() connector.Options {
	opts := connector.DefaultOptions(c.Connector.Host)
	opts.Protocols = c.Connector.Protocols
	opts.Namespace = c.Connector.Namespace
	opts.Extra = c.Connector.Options
	opts.Transport = c.Connector.Transport
	if c.Connector.AuthTimeout > 0 {
		opts.AuthTimeout = c.Connector.AuthTimeout
	}
	if c.Auth.Enabled {
		opts.Authorizer = c.Authorizer()
	}
	return opts
}

// Authorizer 根据认证配置创建令牌签发器
func (c Config) Authorizer() *auth.JWTService {
	svc := auth.NewJWTService(c.Auth.SecretKey, c.Auth.Issuer, c.Auth.TokenTTL)
	if c.Auth.UserID == "" {
		return svc
	}

	info := json.RawMessage(c.Auth.UserInfo)
	if len(info) == 0 {
		info, _ = json.Marshal(map[string]string{"id": c.Auth.UserID})
	}
	return svc.WithIdentity(auth.Identity{UserID: c.Auth.UserID, UserInfo: info})
}

// RelayConfig 转发器参数
func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		TopicPrefix:    c.Relay.TopicPrefix,
		PublishTimeout: c.Relay.PublishTimeout,
	}
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
