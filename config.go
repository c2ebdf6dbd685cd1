package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	col "github.com/conroydamien/eth-squid-station/collect"
	"github.com/conroydamien/eth-squid-station/collect/ethrpc"
	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/predict"
)

const (
	defaultConfigFileName = "config.yml"
	configFileEnv         = "SQUID_CONFIG"
	dataDirEnv            = "SQUID_DATADIR"
)

var (
	defaultOracleConfig = OracleConfig{
		Collect: col.Config{
			WindowConfig: est.WindowConfig{Size: 200},
			Thresholds:   est.DefaultThresholds,
			PollPeriod:   1,
			Lag:          3,
			Backfill:     5,
			FetchTimeout: 10,
			FetchRetries: 3,
		},
		Predict:       predict.DefaultConfig,
		RetrainBlocks: 10,
		TrainTimeout:  30,
	}
	defaultConfig = config{
		OracleConfig: defaultOracleConfig,
		EthRPC: ethrpc.Config{
			URL: "http://localhost:8545",
		},
		AppRPC: AppRPCConfig{
			Host: "localhost",
			Port: "8360",
		},
		Log: LogConfig{
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		},
		DataDir: appDataDir("eth-squid-station"),
	}
	defaultConfigFile  = filepath.Join(defaultConfig.DataDir, defaultConfigFileName)
	defaultLogFileName = "squid.log"
	defaultOutDirName  = "json"
)

type config struct {
	OracleConfig `yaml:",inline"`
	EthRPC       ethrpc.Config `yaml:"ethrpc" json:"ethrpc"`
	AppRPC       AppRPCConfig  `yaml:"apprpc" json:"apprpc"`
	OutDir       string        `yaml:"outdir" json:"outdir"`
	DataDir      string        `yaml:"datadir" json:"datadir"`
	LogFile      string        `yaml:"logfile" json:"logfile"`
	Log          LogConfig     `yaml:"log" json:"log"`
}

type AppRPCConfig struct {
	Host string `json:"host" yaml:"host"`
	Port string `json:"port" yaml:"port"`
}

// loadConfig loads the config. The input arguments specify the path to the
// config file / data directory.
// They can also be specified through env variables (configFileEnv / dataDirEnv),
// with lower precedence.
// If not specified, they are set to default values.
func loadConfig(configFile, dataDir string) (config, error) {
	cfg := defaultConfig

	if configFile == "" {
		configFile = os.Getenv(configFileEnv)
	}
	if dataDir == "" {
		dataDir = os.Getenv(dataDirEnv)
	}

	if configFile != "" {
		// Config file was specified explicitly, so return an error if it
		// couldn't be read.
		if c, err := os.ReadFile(configFile); err != nil {
			return cfg, err
		} else if err := yaml.Unmarshal(c, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", configFile)
		}
	} else {
		// Check the default config file location. No error if it couldn't be
		// read, but error if the yaml could not be unmarshaled.
		if dataDir == "" {
			configFile = defaultConfigFile
		} else {
			configFile = filepath.Join(dataDir, defaultConfigFileName)
		}
		if c, err := os.ReadFile(configFile); err == nil {
			if err := yaml.Unmarshal(c, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "parse %s", configFile)
			}
		}
	}

	// dataDir specified by env or input argument takes precedence
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, defaultLogFileName)
	}
	if cfg.OutDir == "" {
		cfg.OutDir = filepath.Join(cfg.DataDir, defaultOutDirName)
	}

	// Create the datadir if not exists
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate checks the settings needed to run the oracle.
func (c config) validate() error {
	if err := c.Collect.Thresholds.Validate(); err != nil {
		return err
	}
	switch {
	case c.Collect.Size < 1:
		return errors.Errorf("window must be >= 1, got %d", c.Collect.Size)
	case c.Collect.Lag < 0:
		return errors.Errorf("lag must be >= 0, got %d", c.Collect.Lag)
	case c.Collect.Backfill < 1:
		return errors.Errorf("backfill must be >= 1, got %d", c.Collect.Backfill)
	case c.Collect.PollPeriod < 1:
		return errors.Errorf("pollperiod must be >= 1, got %d", c.Collect.PollPeriod)
	case c.Collect.FetchTimeout < 1:
		return errors.Errorf("fetchtimeout must be >= 1, got %d", c.Collect.FetchTimeout)
	case c.RetrainBlocks < 1:
		return errors.Errorf("retrainblocks must be >= 1, got %d", c.RetrainBlocks)
	case c.TrainTimeout < 1:
		return errors.Errorf("traintimeout must be >= 1, got %d", c.TrainTimeout)
	case c.Predict.MinTxs < 2:
		return errors.Errorf("mintxs must be >= 2, got %d", c.Predict.MinTxs)
	case c.Predict.TestFrac <= 0 || c.Predict.TestFrac >= 1:
		return errors.Errorf("testfrac must lie in (0, 1), got %g", c.Predict.TestFrac)
	case c.EthRPC.URL == "":
		return errors.New("ethrpc.url is not set")
	}
	if _, ok := predict.Fitters[c.Predict.Model]; !ok {
		return errors.Errorf("unknown model %q", c.Predict.Model)
	}
	return nil
}

// appDataDir returns the default data directory, a dot-directory in the
// user's home, falling back to the working directory.
func appDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + name
	}
	return filepath.Join(home, "."+name)
}
