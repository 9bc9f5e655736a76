// Package cmd defines the offlinecache command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/offlinecache/internal/conf"
)

// Version is set at build time.
var Version = "dev"

// options carries the values of persistent flags.
type options struct {
	configFile string
	v          *viper.Viper
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{v: viper.New()}

	root := &cobra.Command{
		Use:   "offlinecache",
		Short: "Offline caching proxy for the asset scanner web app",
		Long: `offlinecache sits between the scanner web app and its backend. It pre-caches
the static shell, answers reads from versioned cache partitions when the
network is gone and keeps a local inventory snapshot so scans can be
registered offline.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().String("loglevel", "", "log level (debug, info, warn, error)")
	_ = opts.v.BindPFlag("main.loglevel", root.PersistentFlags().Lookup("loglevel"))

	root.AddCommand(newServeCommand(opts), newConfigCommand(opts))
	return root
}

// load reads settings with flag overrides already bound to opts.v.
func (o *options) load() (*conf.Settings, error) {
	return conf.Load(o.v, o.configFile)
}
