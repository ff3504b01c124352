package zvdev

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the optional overrides loadable from a YAML file
// (grounded on canonical-snapd's yaml.v3 use), layered under
// environment-variable and programmatic overrides in that precedence
// order: YAML < environment < explicit DeviceParams fields, the same
// precedence the teacher applies between DefaultParams and an explicit
// DeviceParams.
type Config struct {
	NumQueues  int `yaml:"num_queues"`
	QueueDepth int `yaml:"queue_depth"`

	VerifyCount   uint64 `yaml:"verify_count"`
	MaxSegs       uint32 `yaml:"max_segs"`
	OpenTimeoutMs uint32 `yaml:"open_timeout_ms"`
	FailfastMask  uint32 `yaml:"failfast_mask"`
}

// LoadConfigFile parses a YAML config file at path. A missing file is
// not an error; the zero Config (meaning "use compiled-in defaults")
// is returned instead, since the file is always optional.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays process environment variables onto cfg, taking
// precedence over whatever the YAML file set. Unset or unparseable
// variables are left alone.
func (cfg Config) ApplyEnv() Config {
	if v, ok := os.LookupEnv("ZVDEV_NUM_QUEUES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumQueues = n
		}
	}
	if v, ok := os.LookupEnv("ZVDEV_QUEUE_DEPTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDepth = n
		}
	}
	if v, ok := os.LookupEnv("ZVDEV_VERIFY_COUNT"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.VerifyCount = n
		}
	}
	return cfg
}

// ApplyTunables pushes the config's tunable fields into t, leaving
// zero-valued fields (meaning "not set in this config") alone so a
// partially-populated Config never clobbers an already-running
// process's tunables with zeros.
func (cfg Config) ApplyTunables(t *Tunables) {
	if cfg.VerifyCount != 0 {
		t.SetVerifyCount(cfg.VerifyCount)
	}
	if cfg.MaxSegs != 0 {
		t.SetMaxSegs(cfg.MaxSegs)
	}
	if cfg.OpenTimeoutMs != 0 {
		t.SetOpenTimeoutMs(cfg.OpenTimeoutMs)
	}
	if cfg.FailfastMask != 0 {
		t.SetFailfastMask(cfg.FailfastMask)
	}
}

// ApplyDeviceParams overlays cfg's queue defaults onto params, only
// where params hasn't already set an explicit value (the "< explicit
// DeviceParams fields" end of the precedence chain).
func (cfg Config) ApplyDeviceParams(params *DeviceParams) {
	if params.NumQueues == 0 {
		params.NumQueues = cfg.NumQueues
	}
	if params.QueueDepth == 0 {
		params.QueueDepth = cfg.QueueDepth
	}
}
