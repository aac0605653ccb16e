// Package config resolves scan settings from flags, environment variables
// and an optional .secreview config file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1homsi/secreview/internal/analyzer"
	"github.com/1homsi/secreview/internal/policy"
	"github.com/1homsi/secreview/internal/rule"
)

const (
	// FileName is the config file base name, looked up without extension in
	// the working directory and $HOME.
	FileName  = ".secreview"
	EnvPrefix = "SECREVIEW"
)

// Formats lists the report formats the scan command can write.
var Formats = []string{"text", "json", "sarif", "markdown"}

// Config holds the resolved scan settings. Empty Severity and FailOn defer
// to the policy file.
type Config struct {
	Severity    string   `mapstructure:"severity" validate:"omitempty,oneof=critical high medium low info"`
	FailOn      string   `mapstructure:"fail-on" validate:"omitempty,oneof=critical high medium low info none"`
	Format      string   `mapstructure:"format" validate:"omitempty,oneof=text json sarif markdown"`
	Output      string   `mapstructure:"output"`
	Policy      string   `mapstructure:"policy"`
	Workers     int      `mapstructure:"workers" validate:"gte=0"`
	MaxFileSize int64    `mapstructure:"max-file-size" validate:"gte=0"`
	Exclude     []string `mapstructure:"exclude"`
	Progress    bool     `mapstructure:"progress"`
	Timings     bool     `mapstructure:"timings"`
	Record      bool     `mapstructure:"record"`
	NoInline    bool     `mapstructure:"no-inline"`
	Since       string   `mapstructure:"since"`
}

var validate = validator.New()

// RegisterFlags defines the scan flags. Flag names double as config keys.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("severity", "", "minimum severity to report: critical|high|medium|low|info (default: policy, else info)")
	flags.String("fail-on", "", "exit 1 when a finding is at or above: critical|high|medium|low|info|none (default: policy, else high)")
	flags.StringP("format", "f", "text", "output format: "+strings.Join(Formats, "|"))
	flags.StringP("output", "o", "", "write the report to this file instead of stdout")
	flags.String("policy", "", "policy file (YAML or JSON)")
	flags.Int("workers", 0, "files analyzed in parallel (default: number of CPUs)")
	flags.Int64("max-file-size", analyzer.DefaultMaxFileSize, "skip files larger than this many bytes")
	flags.StringSlice("exclude", nil, "path globs to skip, e.g. **/*.test.js")
	flags.Bool("progress", false, "show a progress bar on stderr")
	flags.Bool("timings", false, "print scan timing after the report")
	flags.Bool("record", false, "record a history snapshot after the scan")
	flags.Bool("no-inline", false, "ignore secreview:ignore comments")
	flags.String("since", "", "only scan files changed since this git ref, e.g. origin/main")
}

// Initialize reads the config file (cfgFile, or .secreview in the working
// directory or $HOME), enables SECREVIEW_* environment variables and copies
// every value viper knows into the flags the user did not set.
func Initialize(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "read config")
		}
		slog.Debug("no config file found")
	} else {
		slog.Debug("using config file", "file", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	bindFlags(v, flags)
	return nil
}

// bindFlags applies config and environment values to unset flags, then binds
// each flag so viper sees command-line values too.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, flagValue(v.Get(f.Name))); err != nil {
				slog.Warn("ignoring config value", "key", f.Name, "err", err)
			}
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			slog.Error("could not bind flag to viper", "flag", f.Name, "err", err)
		}
	})
}

// flagValue renders a config value the way pflag parses it. Lists from a
// config file become comma-separated.
func flagValue(val any) string {
	if list, ok := val.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", val)
}

// Parse decodes and validates the settings viper resolved.
func Parse(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	c.Severity = strings.ToLower(c.Severity)
	c.FailOn = strings.ToLower(c.FailOn)
	c.Format = strings.ToLower(c.Format)
	if err := validate.Struct(c); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return c, nil
}

// Threshold resolves the reporting threshold: the setting, else the policy,
// else every severity.
func (c Config) Threshold(p *policy.Policy) rule.Severity {
	if c.Severity != "" {
		return rule.Severity(c.Severity)
	}
	if p != nil && p.SeverityThreshold != "" {
		return p.Threshold()
	}
	return rule.SeverityInfo
}

// Gate resolves the fail-on level the same way. The second result is false
// when gating is disabled.
func (c Config) Gate(p *policy.Policy) (rule.Severity, bool) {
	switch c.FailOn {
	case "":
		if p == nil {
			return rule.SeverityHigh, true
		}
		return p.Gate()
	case policy.FailOnNone:
		return "", false
	}
	return rule.Severity(c.FailOn), true
}

// ScanOptions turns the settings into workspace scan options. Policy
// exclude_paths are left to policy.Apply so they show up in its stats.
func (c Config) ScanOptions(p *policy.Policy) analyzer.ScanOptions {
	return analyzer.ScanOptions{
		Threshold:   c.Threshold(p),
		Workers:     c.Workers,
		MaxFileSize: c.MaxFileSize,
		Exclude:     append([]string{}, c.Exclude...),
		NoInline:    c.NoInline,
	}
}
