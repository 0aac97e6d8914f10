// Package config loads gitk-sync settings from gitk-sync.yaml and
// GITK_SYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName  = "gitk-sync"
	envPrefix = "GITK_SYNC"
)

// Config is the resolved configuration. Durations are already parsed.
type Config struct {
	Repo        Repo        `yaml:"repo"`
	Maintenance Maintenance `yaml:"maintenance"`
	LFS         LFS         `yaml:"lfs"`
	Watch       Watch       `yaml:"watch"`
	Log         Log         `yaml:"log"`
	IndexLock   IndexLock   `yaml:"index_lock"`

	// File is the config file that was read, empty when defaults were used.
	File string `yaml:"-"`
}

type Repo struct {
	Path   string `yaml:"path"`
	Remote string `yaml:"remote"`
	Trunk  string `yaml:"trunk"`
}

type Maintenance struct {
	Enabled       bool          `yaml:"enabled"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
	Interval      time.Duration `yaml:"interval"`
	Tasks         []string      `yaml:"tasks"`
}

type LFS struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"-"`
	Username  string `yaml:"username"`
	Ref       string `yaml:"ref"`
	PageSize  int    `yaml:"page_size"`
	PullAfter bool   `yaml:"pull_after"`
	// DisplayNames maps lock owner logins to human names. Keys are
	// lowercase logins.
	DisplayNames map[string]string `yaml:"display_names"`
}

type Watch struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IndexLock struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Default returns the configuration used when no file or env override is
// present.
func Default() Config {
	return Config{
		Repo: Repo{Path: ".", Remote: "origin", Trunk: "main"},
		Maintenance: Maintenance{
			Enabled:       true,
			FetchInterval: 5 * time.Minute,
			Interval:      time.Hour,
		},
		LFS:       LFS{PageSize: 100},
		Watch:     Watch{Enabled: true, Debounce: 350 * time.Millisecond},
		Log:       Log{Level: "info", Format: "text"},
		IndexLock: IndexLock{Attempts: 10, Delay: 500 * time.Millisecond},
	}
}

// Load reads gitk-sync.yaml from explicit when set, otherwise from repoDir
// and then $XDG_CONFIG_HOME/gitk-sync. A missing file is not an error.
func Load(repoDir, explicit string) (Config, error) {
	cfg := Default()

	v := viper.New()
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		if repoDir != "" {
			v.AddConfigPath(repoDir)
		}
		if dir := userConfigDir(); dir != "" {
			v.AddConfigPath(filepath.Join(dir, fileName))
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("repo.path", cfg.Repo.Path)
	v.SetDefault("repo.remote", cfg.Repo.Remote)
	v.SetDefault("repo.trunk", cfg.Repo.Trunk)
	v.SetDefault("maintenance.enabled", cfg.Maintenance.Enabled)
	v.SetDefault("maintenance.fetch_interval", cfg.Maintenance.FetchInterval)
	v.SetDefault("maintenance.interval", cfg.Maintenance.Interval)
	v.SetDefault("maintenance.tasks", []string{})
	v.SetDefault("lfs.url", "")
	v.SetDefault("lfs.token", "")
	v.SetDefault("lfs.username", "")
	v.SetDefault("lfs.ref", "")
	v.SetDefault("lfs.page_size", cfg.LFS.PageSize)
	v.SetDefault("lfs.pull_after", false)
	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("index_lock.attempts", cfg.IndexLock.Attempts)
	v.SetDefault("index_lock.delay", cfg.IndexLock.Delay)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	cfg.Repo = Repo{
		Path:   v.GetString("repo.path"),
		Remote: v.GetString("repo.remote"),
		Trunk:  v.GetString("repo.trunk"),
	}
	cfg.Maintenance = Maintenance{
		Enabled:       v.GetBool("maintenance.enabled"),
		FetchInterval: v.GetDuration("maintenance.fetch_interval"),
		Interval:      v.GetDuration("maintenance.interval"),
		Tasks:         v.GetStringSlice("maintenance.tasks"),
	}
	cfg.LFS = LFS{
		URL:       v.GetString("lfs.url"),
		Token:     v.GetString("lfs.token"),
		Username:  v.GetString("lfs.username"),
		Ref:       v.GetString("lfs.ref"),
		PageSize:  v.GetInt("lfs.page_size"),
		PullAfter: v.GetBool("lfs.pull_after"),
	}
	if v.IsSet("lfs.display_names") {
		names := v.GetStringMapString("lfs.display_names")
		cfg.LFS.DisplayNames = make(map[string]string, len(names))
		for login, name := range names {
			cfg.LFS.DisplayNames[strings.ToLower(login)] = name
		}
	}
	cfg.Watch = Watch{
		Enabled:  v.GetBool("watch.enabled"),
		Debounce: v.GetDuration("watch.debounce"),
	}
	cfg.Log = Log{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	cfg.IndexLock = IndexLock{
		Attempts: v.GetInt("index_lock.attempts"),
		Delay:    v.GetDuration("index_lock.delay"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Repo.Remote) == "" {
		errs = append(errs, errors.New("repo.remote must not be empty"))
	}
	if strings.TrimSpace(c.Repo.Trunk) == "" {
		errs = append(errs, errors.New("repo.trunk must not be empty"))
	}
	if c.Maintenance.Enabled {
		if c.Maintenance.FetchInterval <= 0 {
			errs = append(errs, errors.New("maintenance.fetch_interval must be positive"))
		}
		if c.Maintenance.Interval <= 0 {
			errs = append(errs, errors.New("maintenance.interval must be positive"))
		}
	}
	if c.LFS.PageSize <= 0 {
		errs = append(errs, errors.New("lfs.page_size must be positive"))
	}
	if c.IndexLock.Attempts < 1 {
		errs = append(errs, errors.New("index_lock.attempts must be at least 1"))
	}
	if c.IndexLock.Delay < 0 {
		errs = append(errs, errors.New("index_lock.delay must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}
