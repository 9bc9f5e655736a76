package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// effectiveConfig is the printable view of the loaded settings.
type effectiveConfig struct {
	Version    string            `yaml:"version"`
	Listen     string            `yaml:"listen"`
	Upstream   string            `yaml:"upstream"`
	Driver     string            `yaml:"driver"`
	Partitions []string          `yaml:"partitions"`
	Policy     map[string]string `yaml:"policy"`
	Manifest   []string          `yaml:"manifest"`
	EvictAfter int               `yaml:"evict_after_failures"`
	MQTT       bool              `yaml:"mqtt"`
	Sentry     bool              `yaml:"sentry"`
}

func newConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(effectiveConfig{
				Version:    s.Cache.Version,
				Listen:     s.Server.Listen,
				Upstream:   s.Upstream.BaseURL,
				Driver:     s.Cache.Driver,
				Partitions: s.CurrentPartitions(),
				Policy:     s.Policy,
				Manifest:   s.Manifest.URLs,
				EvictAfter: s.Revalidate.EvictAfterFailures,
				MQTT:       s.MQTT.Enabled,
				Sentry:     s.Sentry.Enabled,
			})
		},
	}
}
