package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
	"github.com/Jmemon/contextual-clarity-sub001/internal/logging"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Validate configuration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, path, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if err := config.Validate(cfg); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Configuration OK: %s (%d providers)\n", path, len(cfg.Providers))
				for _, p := range cfg.Providers {
					fmt.Fprintf(out, "  %-12s %-10s %-9s %s\n", p.Name, p.Kind, p.Role, p.Model)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				out, err := redactedYAML(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
	)
	return cmd
}

// redactedYAML renders cfg after defaults, with credentials masked.
func redactedYAML(cfg *config.Config) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	r := logging.NewRedactor()
	for _, s := range cfg.Secrets() {
		r.AddLiteral(s)
	}
	r.RedactMap(m)
	return yaml.Marshal(m)
}
