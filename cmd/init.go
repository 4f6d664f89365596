package cmd

import (
	"fmt"
	"os"

	"flightplan/internal/config"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# flightplan configuration
database:
  path: flightplan.db
  busy_timeout: 5s

logging:
  level: info
  format: text
  # file: logs/flightplan.log
  max_size_mb: 50
  max_backups: 5
  max_age_days: 30

ssh:
  connect_timeout: 30s
  command_timeout: 0s
  default_port: "22"
  # known_hosts: ~/.ssh/known_hosts

execution:
  max_parallel: 10
  template_max_depth: 5

metrics:
  # listen: 127.0.0.1:9464

catalog:
  files:
    - catalog.yaml

secrets:
  aws:
    enabled: false
    # region: eu-west-1
`

const sampleCatalogTemplate = `catalog:
  variables:
    app_dir: /srv/app

  servers:
    - reference: web-1
      name: Web 1
      ipv4: 192.0.2.10
      ssh_username: deploy
      ssh_password: change-me
      use_sudo: n

  commands:
    - reference: uptime
      name: Uptime
      code: uptime
    - reference: disk
      name: Disk usage
      code: df -h {{ app_dir }}

  plans:
    - reference: health
      name: Health check
      lines:
        - sequence: 10
          command: uptime
        - sequence: 20
          command: disk
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create flightplan.yaml and a sample catalog in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	cwd, _ := os.Getwd()
	p := printer()
	p.Printf("📂 Current directory: %s\n", cwd)

	if _, err := os.Stat(config.ConfigFileName); err == nil {
		return fmt.Errorf("%s already exists in current directory", config.ConfigFileName)
	}
	if err := os.WriteFile(config.ConfigFileName, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("error writing %s: %v", config.ConfigFileName, err)
	}
	p.Success("Created %s", config.ConfigFileName)

	if _, err := os.Stat("catalog.yaml"); err == nil {
		p.Warning("catalog.yaml already exists, leaving it untouched")
	} else if err := os.WriteFile("catalog.yaml", []byte(sampleCatalogTemplate), 0o644); err != nil {
		p.Warning("Failed to write catalog.yaml: %v", err)
	} else {
		p.Success("Created catalog.yaml")
	}

	p.Printf("\n💡 Next steps:\n")
	p.Printf("   - Edit catalog.yaml with your servers, commands and plans\n")
	p.Printf("   - Run 'flightplan catalog import' to load it\n")
	p.Printf("   - Run 'flightplan run plan health --server web-1'\n")
	return nil
}
