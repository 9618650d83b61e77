package dispatch

import (
	"fmt"
	"strings"
)

const (
	ModeExec       = "exec"
	ModeKubernetes = "kubernetes"
)

// Config selects and configures the worker launch backend
type Config struct {
	Mode string `toml:"mode"`

	// Executed with the transaction ID as the last argument
	WorkerCommand string `toml:"worker_command"`

	// Executed with no transaction-specific arguments once per run
	ExtractCommand string `toml:"extract_command"`

	Kubernetes KubernetesConfig `toml:"kubernetes"`
}

// KubernetesConfig holds settings for launching workers as batch Jobs
type KubernetesConfig struct {
	Namespace               string `toml:"namespace"`
	Image                   string `toml:"image"`
	Kubeconfig              string `toml:"kubeconfig"`
	ServiceAccount          string `toml:"service_account"`
	TTLSecondsAfterFinished int32  `toml:"ttl_seconds_after_finished"`
}

// DefaultConfig returns dispatch defaults matching the stock install layout
func DefaultConfig() Config {
	return Config{
		Mode:           ModeExec,
		WorkerCommand:  "/usr/local/bin/ganymede_worker.sh",
		ExtractCommand: "/usr/local/bin/ganymede_leopard_extract.sh",
		Kubernetes: KubernetesConfig{
			Namespace:               "default",
			TTLSecondsAfterFinished: 3600,
		},
	}
}

// Validate checks the configuration for the selected mode
func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkerCommand) == "" {
		return fmt.Errorf("worker_command must not be empty")
	}
	if strings.TrimSpace(c.ExtractCommand) == "" {
		return fmt.Errorf("extract_command must not be empty")
	}

	switch c.Mode {
	case ModeExec:
		return nil
	case ModeKubernetes:
		if c.Kubernetes.Namespace == "" {
			return fmt.Errorf("kubernetes namespace must not be empty")
		}
		if c.Kubernetes.Image == "" {
			return fmt.Errorf("kubernetes image must not be empty")
		}
		if c.Kubernetes.TTLSecondsAfterFinished < 0 {
			return fmt.Errorf("ttl_seconds_after_finished must not be negative, got %d", c.Kubernetes.TTLSecondsAfterFinished)
		}
		return nil
	default:
		return fmt.Errorf("unsupported dispatch mode: %q", c.Mode)
	}
}
