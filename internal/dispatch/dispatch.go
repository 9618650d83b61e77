// Package dispatch launches workers and the extraction job. A launch
// returns once the backend has accepted it; nothing here observes whether
// the worker later succeeds.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"
)

// Dispatcher launches the worker for one transaction
type Dispatcher interface {
	Dispatch(ctx context.Context, transactionID string) error
}

// Trigger launches the extraction job
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Backend pairs the dispatcher and trigger of one launch mode
type Backend struct {
	Dispatcher Dispatcher
	Trigger    Trigger
}

// NewBackend builds the backend for cfg.Mode. client is only used in
// kubernetes mode; when nil a clientset is built from cfg.Kubernetes.
func NewBackend(cfg Config, client kubernetes.Interface, logger *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case ModeKubernetes:
		if client == nil {
			var err error
			client, err = NewClientset(cfg.Kubernetes)
			if err != nil {
				return nil, err
			}
		}
		return &Backend{
			Dispatcher: NewKubernetesDispatcher(client, cfg.WorkerCommand, cfg.Kubernetes, logger),
			Trigger:    NewKubernetesTrigger(client, cfg.ExtractCommand, cfg.Kubernetes, logger),
		}, nil
	case ModeExec:
		return &Backend{
			Dispatcher: NewExecDispatcher(cfg.WorkerCommand, logger),
			Trigger:    NewExecTrigger(cfg.ExtractCommand, logger),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported dispatch mode: %q", cfg.Mode)
	}
}
