package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile loads the YAML file named by flags. It returns the
// parsed config, a boolean indicating whether the file was present, and
// an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfg, err := Load(flags.Config)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads INKWELL_* environment variables into a fresh
// Config and reports whether any were present. This function does not
// mutate any caller-provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("INKWELL_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}
	if v := os.Getenv("INKWELL_DB_PATH"); v != "" {
		envUsed = true
		envCfg.Server.DBPath = v
	}
	if v := os.Getenv("INKWELL_POSTS_DB_PATH"); v != "" {
		envUsed = true
		envCfg.Server.PostsDBPath = v
	}
	if v := os.Getenv("INKWELL_BASE_URL"); v != "" {
		envUsed = true
		envCfg.Server.BaseURL = v
	}
	if v := os.Getenv("INKWELL_ENV"); v != "" {
		envUsed = true
		envCfg.Server.Env = v
	}
	if v := os.Getenv("INKWELL_CACHE_TTL"); v != "" {
		envUsed = true
		envCfg.Cache.DefaultTTL = ParseIntDefault(v, 0, "INKWELL_CACHE_TTL").Value
	}
	if v := os.Getenv("INKWELL_RATE_CAPACITY"); v != "" {
		envUsed = true
		// malformed values read as zero; ValidateConfig substitutes the
		// canonical default and the lenient parser logs the substitution
		envCfg.RateLimit.Capacity = ParseFloatDefault(v, 0, "INKWELL_RATE_CAPACITY").Value
	}
	if v := os.Getenv("INKWELL_RATE_INTERVAL_MS"); v != "" {
		envUsed = true
		envCfg.RateLimit.IntervalMs = int64(ParseIntDefault(v, 0, "INKWELL_RATE_INTERVAL_MS").Value)
	}
	if v := os.Getenv("INKWELL_CDN_ENDPOINT"); v != "" {
		envUsed = true
		envCfg.CDN.Endpoint = v
	}
	if v := os.Getenv("INKWELL_CDN_TOKEN"); v != "" {
		envUsed = true
		envCfg.CDN.Token = v
	}
	if v := os.Getenv("INKWELL_AI_ENDPOINT"); v != "" {
		envUsed = true
		envCfg.AI.Endpoint = v
	}
	if v := os.Getenv("INKWELL_AI_API_KEY"); v != "" {
		envUsed = true
		envCfg.AI.APIKey = v
	}
	if v := os.Getenv("INKWELL_AI_MODEL"); v != "" {
		envUsed = true
		envCfg.AI.Model = v
	}
	if v := os.Getenv("INKWELL_AI_RPS"); v != "" {
		envUsed = true
		envCfg.AI.RPS = ParseFloatDefault(v, 0, "INKWELL_AI_RPS").Value
	}
	if v := os.Getenv("INKWELL_MAIL_ENDPOINT"); v != "" {
		envUsed = true
		envCfg.Mail.Endpoint = v
	}
	if v := os.Getenv("INKWELL_MAIL_API_KEY"); v != "" {
		envUsed = true
		envCfg.Mail.APIKey = v
	}
	if v := os.Getenv("INKWELL_ADMIN_KEYS"); v != "" {
		envUsed = true
		envCfg.APIKeys.Admin = parseList(v)
	}
	if v := os.Getenv("INKWELL_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = v
	}
	return envCfg, envUsed
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// dbPath. An explicit --config requires the file to exist and wins;
// otherwise explicit addr/db flags win; else a present config file; else
// environment variables.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envUsed bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["db"] {
		res.Config = fileCfg
		if !fileExists {
			res.Config = envCfg
		}
		res.Addr = flags.Addr
		if !flags.Set["addr"] {
			res.Addr = res.Config.Addr()
		}
		res.DBPath = flags.DB
		if !flags.Set["db"] && res.Config.Server.DBPath != "" {
			res.DBPath = res.Config.Server.DBPath
		}
		res.Source = "flags"
		return res, nil
	}

	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}

	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Server.DBPath
	res.Source = "env"
	if !envUsed {
		res.Source = "flags"
		res.Addr = flags.Addr
		res.DBPath = flags.DB
	}
	return res, nil
}
