package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

type Config struct {
	Log       Log
	Media     Media
	Discovery Discovery
	Master    Master
	Prefs     Prefs
	Libraries Libraries
	Identity  Identity
}

type Log struct {
	Level  string `envconfig:"UMI3D_LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"UMI3D_LOG_PRETTY" default:"true"`
}

type Media struct {
	Path       string        `envconfig:"UMI3D_MEDIA_PATH" default:"/media" description:"Well-known path of the environment manifest"`
	Retries    int           `envconfig:"UMI3D_MEDIA_RETRIES" default:"3"`
	RetryDelay time.Duration `envconfig:"UMI3D_MEDIA_RETRY_DELAY" default:"1s"`
	Timeout    time.Duration `envconfig:"UMI3D_MEDIA_TIMEOUT" default:"10s"`
}

type Discovery struct {
	// MasterAddr is the master server queried for sessions by pin.
	MasterAddr  string        `envconfig:"UMI3D_MASTER_ADDR" default:"127.0.0.1:27960"`
	WaitTimeout time.Duration `envconfig:"UMI3D_WAIT_TIMEOUT" default:"5s" description:"Bounds waiting for the master server and for the session list"`
}

type Master struct {
	ListenAddr   string        `envconfig:"UMI3D_MASTER_LISTEN" default:":27960"`
	HTTPPort     string        `envconfig:"PORT" default:"8080"`
	Rate         float64       `envconfig:"UMI3D_MASTER_RATE" default:"1.5"`
	Burst        int           `envconfig:"UMI3D_MASTER_BURST" default:"4"`
	PollInterval time.Duration `envconfig:"UMI3D_MASTER_POLL_INTERVAL" default:"15s"`
	PollWorkers  int           `envconfig:"UMI3D_MASTER_POLL_WORKERS" default:"4"`
}

type Prefs struct {
	Path string `envconfig:"UMI3D_PREFS_PATH" default:"~/.umi3d/preferences.json"`
}

type Libraries struct {
	Dir     string `envconfig:"UMI3D_LIBRARY_DIR" default:"~/.umi3d/libraries"`
	Retries int    `envconfig:"UMI3D_LIBRARY_RETRIES" default:"3"`
}

// Identity holds credentials used when no interactive prompt is available.
type Identity struct {
	Login    string `envconfig:"UMI3D_LOGIN"`
	Password string `envconfig:"UMI3D_PASSWORD"`
	Pin      string `envconfig:"UMI3D_PIN"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.Prefs.Path, err = homedir.Expand(cfg.Prefs.Path)
	if err != nil {
		return Config{}, err
	}
	cfg.Libraries.Dir, err = homedir.Expand(cfg.Libraries.Dir)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
