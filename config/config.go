package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DBConfig database backend settings, postgres or sqlite.
type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

// GatewayConfig tunes the WhatsApp session layer. Durations are seconds.
type GatewayConfig struct {
	StorageDir         string `yaml:"storage_dir" json:"storage_dir"`
	StoreDriver        string `yaml:"store_driver" json:"store_driver"`
	StoreDSN           string `yaml:"store_dsn" json:"store_dsn"`
	AuthTimeout        int    `yaml:"auth_timeout" json:"auth_timeout"`
	ChallengeTTL       int    `yaml:"challenge_ttl" json:"challenge_ttl"`
	CacheTTL           int    `yaml:"cache_ttl" json:"cache_ttl"`
	SignoutTimeout     int    `yaml:"signout_timeout" json:"signout_timeout"`
	HardLogout         bool   `yaml:"hard_logout" json:"hard_logout"`
	HealthInterval     int    `yaml:"health_interval" json:"health_interval"`
	ReconnectStrategy  string `yaml:"reconnect_strategy" json:"reconnect_strategy"`
	RestoreOnBoot      bool   `yaml:"restore_on_boot" json:"restore_on_boot"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Database DBConfig      `yaml:"database" json:"database"`
	Gateway  GatewayConfig `yaml:"gateway" json:"gateway"`
	Logger   LogConfig     `yaml:"logger" json:"logger"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

// GetStorageDir resolves the WhatsApp credential store root.
func (c *AppConfig) GetStorageDir() string {
	if c.Gateway.StorageDir != "" {
		return c.Gateway.StorageDir
	}
	return filepath.Join(c.System.Workdir, "wastore")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.System.Workdir, 0o755)
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
	_ = os.MkdirAll(c.GetStorageDir(), 0o700)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wagate",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wagate",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1816,
		Secret: "9b6de5cc-wagate-1816-af3b-136c0db6bba7",
	},
	Database: DBConfig{
		Type:     "sqlite",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wagate",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Gateway: GatewayConfig{
		StorageDir:        "",
		StoreDriver:       "sqlite",
		StoreDSN:          "",
		AuthTimeout:       60,
		ChallengeTTL:      120,
		CacheTTL:          300,
		SignoutTimeout:    10,
		HardLogout:        false,
		HealthInterval:    30,
		ReconnectStrategy: "reconnect",
		RestoreOnBoot:     true,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wagate/wagate.log",
	},
}

func setEnvValue(name string, f func(v string)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(evalue)
	}
}

func setEnvBoolValue(name string, f func(v bool)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(evalue == "true" || evalue == "1" || evalue == "on")
	}
}

func setEnvIntValue(name string, f func(v int)) {
	var evalue = os.Getenv(name)
	if evalue == "" {
		return
	}
	p, err := strconv.ParseInt(evalue, 10, 64)
	if err == nil {
		f(int(p))
	}
}

// LoadConfig reads the YAML config file when present and applies
// WAGATE_* environment overrides on top.
func LoadConfig(cfile string) *AppConfig {
	appconfig := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			appconfig = new(AppConfig)
			if err := yaml.Unmarshal(data, appconfig); err != nil {
				panic(err)
			}
		}
	}

	setEnvValue("WAGATE_SYSTEM_WORKDIR", func(v string) { appconfig.System.Workdir = v })
	setEnvBoolValue("WAGATE_SYSTEM_DEBUG", func(v bool) { appconfig.System.Debug = v })

	setEnvValue("WAGATE_WEB_HOST", func(v string) { appconfig.Web.Host = v })
	setEnvValue("WAGATE_WEB_SECRET", func(v string) { appconfig.Web.Secret = v })
	setEnvIntValue("WAGATE_WEB_PORT", func(v int) { appconfig.Web.Port = v })

	setEnvValue("WAGATE_DB_TYPE", func(v string) { appconfig.Database.Type = v })
	setEnvValue("WAGATE_DB_HOST", func(v string) { appconfig.Database.Host = v })
	setEnvIntValue("WAGATE_DB_PORT", func(v int) { appconfig.Database.Port = v })
	setEnvValue("WAGATE_DB_NAME", func(v string) { appconfig.Database.Name = v })
	setEnvValue("WAGATE_DB_USER", func(v string) { appconfig.Database.User = v })
	setEnvValue("WAGATE_DB_PWD", func(v string) { appconfig.Database.Passwd = v })
	setEnvBoolValue("WAGATE_DB_DEBUG", func(v bool) { appconfig.Database.Debug = v })

	setEnvValue("WAGATE_GATEWAY_STORAGE_DIR", func(v string) { appconfig.Gateway.StorageDir = v })
	setEnvValue("WAGATE_GATEWAY_STORE_DRIVER", func(v string) { appconfig.Gateway.StoreDriver = v })
	setEnvValue("WAGATE_GATEWAY_STORE_DSN", func(v string) { appconfig.Gateway.StoreDSN = v })
	setEnvValue("WAGATE_GATEWAY_RECONNECT_STRATEGY", func(v string) { appconfig.Gateway.ReconnectStrategy = v })
	setEnvBoolValue("WAGATE_GATEWAY_HARD_LOGOUT", func(v bool) { appconfig.Gateway.HardLogout = v })
	setEnvBoolValue("WAGATE_GATEWAY_RESTORE_ON_BOOT", func(v bool) { appconfig.Gateway.RestoreOnBoot = v })

	setEnvValue("WAGATE_LOGGER_MODE", func(v string) { appconfig.Logger.Mode = v })
	setEnvBoolValue("WAGATE_LOGGER_FILE_ENABLE", func(v bool) { appconfig.Logger.FileEnable = v })

	if appconfig.Logger.Filename == "" {
		appconfig.Logger.Filename = filepath.Join(appconfig.System.Workdir, "wagate.log")
	}

	appconfig.initDirs()

	return appconfig
}
