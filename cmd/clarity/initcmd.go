package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
)

// initAnswers are the choices collected by the setup wizard.
type initAnswers struct {
	Driver         string
	Kind           string
	TutorModel     string
	EvaluatorModel string
	APIKeyEnv      string
	Bind           string
	Auth           bool
}

func defaultAnswers() initAnswers {
	return initAnswers{
		Driver:     config.DriverSQLite,
		Kind:       config.KindAnthropic,
		TutorModel: "claude-sonnet-4-5-20250929",
		APIKeyEnv:  "ANTHROPIC_API_KEY",
		Bind:       "127.0.0.1:8080",
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				path = config.DefaultPath()
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			answers := defaultAnswers()
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				if err := initForm(&answers).RunWithContext(cmd.Context()); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			}

			raw, err := renderInitConfig(answers)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("path", "", "Where to write the configuration (default: the user config directory)")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	cmd.Flags().BoolP("yes", "y", false, "Accept the defaults without prompting")
	return cmd
}

func initForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage").
				Options(
					huh.NewOption("SQLite file", config.DriverSQLite),
					huh.NewOption("In memory (nothing persists)", config.DriverMemory),
				).
				Value(&a.Driver),
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("Anthropic", config.KindAnthropic),
					huh.NewOption("OpenAI", config.KindOpenAI),
				).
				Value(&a.Kind),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Tutor model").
				Value(&a.TutorModel),
			huh.NewInput().
				Title("Evaluator model").
				Description("Leave empty to use the tutor model for evaluation").
				Value(&a.EvaluatorModel),
			huh.NewInput().
				Title("Environment variable holding the API key").
				Value(&a.APIKeyEnv).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway listen address").
				Value(&a.Bind),
			huh.NewConfirm().
				Title("Require a bearer token?").
				Description("Read from CLARITY_GATEWAY_TOKEN at startup").
				Value(&a.Auth),
		),
	)
}

type initFile struct {
	Version   string         `yaml:"version"`
	Storage   initStorage    `yaml:"storage"`
	Providers []initProvider `yaml:"providers"`
	Gateway   initGateway    `yaml:"gateway"`
}

type initStorage struct {
	Driver string `yaml:"driver"`
}

type initProvider struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Role      string `yaml:"role"`
	Model     string `yaml:"model,omitempty"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type initGateway struct {
	Bind string        `yaml:"bind,omitempty"`
	Auth *initAuthConf `yaml:"auth,omitempty"`
}

type initAuthConf struct {
	BearerToken string `yaml:"bearer_token"`
}

// renderInitConfig turns wizard answers into a configuration file that
// passes config.Validate. The main provider takes the fallback role so it
// serves every role no dedicated entry covers.
func renderInitConfig(a initAnswers) ([]byte, error) {
	f := initFile{
		Version: "1",
		Storage: initStorage{Driver: a.Driver},
		Providers: []initProvider{{
			Name:      a.Kind,
			Kind:      a.Kind,
			Role:      "fallback",
			Model:     a.TutorModel,
			APIKeyEnv: a.APIKeyEnv,
		}},
		Gateway: initGateway{Bind: a.Bind},
	}
	if a.EvaluatorModel != "" && a.EvaluatorModel != a.TutorModel {
		f.Providers = append(f.Providers, initProvider{
			Name:      a.Kind + "-evaluator",
			Kind:      a.Kind,
			Role:      "evaluator",
			Model:     a.EvaluatorModel,
			APIKeyEnv: a.APIKeyEnv,
		})
	}
	if a.Auth {
		f.Gateway.Auth = &initAuthConf{BearerToken: "${CLARITY_GATEWAY_TOKEN:-}"}
	}
	return yaml.Marshal(f)
}
