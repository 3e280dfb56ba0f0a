package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/715d/pypack/pkg/pypack"
)

// configKeys maps pypack.yaml keys and PYPACK_* variables to global flags.
var configKeys = map[string]string{
	"python":          "python",
	"verbose":         "verbose",
	"trace_timeout":   "trace-timeout",
	"compile_timeout": "compile-timeout",
}

func bindConfig(fs *pflag.FlagSet) {
	viper.SetEnvPrefix("PYPACK")
	viper.AutomaticEnv()
	for key, flag := range configKeys {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
	viper.SetDefault("build_dir", pypack.DefaultBuildDir)
}

// loadConfig reads the optional config file and resolves every bound value.
// Flags given on the command line win over the file and the environment.
func loadConfig(c *Config) error {
	if c.ConfigFile != "" {
		viper.SetConfigFile(c.ConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("pypack")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.ConfigFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	c.Python = viper.GetString("python")
	c.Verbose = viper.GetBool("verbose")
	c.TraceTimeout = viper.GetDuration("trace_timeout")
	c.CompileTimeout = viper.GetDuration("compile_timeout")
	if c.BuildDir == "" {
		c.BuildDir = viper.GetString("build_dir")
	}
	return nil
}
