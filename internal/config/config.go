// Package config is the ambient settings/logging layer shared by both
// CLI programs: a small viper-backed settings registry plus tracelog
// bootstrap, in the shape of the teacher's internal/config.go
// (AllowedSettings/SetDefaultValues/InitConfig/AddConfigFlags) scaled
// down to the handful of settings this spec's external interfaces need.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wal-g/tracelog"
)

// Environment variable names honored by the connection layer
// (spec.md §6) plus the one ambient logging knob.
const (
	PgHostSetting     = "PGHOST"
	PgPortSetting     = "PGPORT"
	PgUserSetting     = "PGUSER"
	PgPasswordSetting = "PGPASSWORD"
	LogLevelSetting   = "WALG_LOG_LEVEL"
)

// AllowedSettings is every environment variable InitConfig/
// AddConfigFlags will bind; unknown WALG_/PG-prefixed variables are
// simply not read by this program, not an error.
var AllowedSettings = map[string]bool{
	PgHostSetting:     true,
	PgPortSetting:     true,
	PgUserSetting:     true,
	PgPasswordSetting: true,
	LogLevelSetting:   true,
}

// SetDefaultValues installs defaults for settings this program can run
// without being told explicitly.
func SetDefaultValues(v *viper.Viper) {
	v.SetDefault(PgPortSetting, "5432")
	v.SetDefault(LogLevelSetting, "NORMAL")
}

// InitConfig wires viper to read matching environment variables,
// mirroring the teacher's InitConfig: AutomaticEnv plus defaults, no
// config file (out of scope for this spec's two thin CLI programs).
func InitConfig() {
	v := viper.GetViper()
	v.AutomaticEnv()
	SetDefaultValues(v)
}

// AddConfigFlags registers one persistent string flag per allowed
// setting and binds it into viper, so either the flag or the
// environment variable may supply a value, same precedence as the
// teacher's AddConfigFlags.
func AddConfigFlags(cmd *cobra.Command) {
	flags := &pflag.FlagSet{}
	for k := range AllowedSettings {
		flags.String(toFlagName(k), "", "")
		_ = viper.BindPFlag(k, flags.Lookup(toFlagName(k)))
	}
	cmd.PersistentFlags().AddFlagSet(flags)
}

func toFlagName(setting string) string {
	out := make([]byte, 0, len(setting))
	for _, c := range setting {
		if c == '_' {
			out = append(out, '-')
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// ConfigureLogging applies WALG_LOG_LEVEL, if set, to tracelog.
func ConfigureLogging() error {
	level := viper.GetString(LogLevelSetting)
	if level == "" {
		return nil
	}
	if err := tracelog.UpdateLogLevel(level); err != nil {
		return errors.Wrap(err, "ConfigureLogging: failed to apply WALG_LOG_LEVEL")
	}
	return nil
}
