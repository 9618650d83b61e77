package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// LabelTransactionID marks worker Jobs with the transaction they process
	LabelTransactionID = "ganymede/transaction-id"
	// LabelRole distinguishes worker Jobs from extraction Jobs
	LabelRole = "ganymede/role"

	workerJobPrefix  = "ganymede-worker-"
	extractJobPrefix = "ganymede-extract-"
)

// NewClientset builds a Kubernetes client from a kubeconfig path, falling
// back to the in-cluster service account when the path is empty
func NewClientset(cfg KubernetesConfig) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)

	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return clientset, nil
}

// KubernetesDispatcher launches each worker as a batch/v1 Job
type KubernetesDispatcher struct {
	client  kubernetes.Interface
	command []string
	config  KubernetesConfig
	logger  *slog.Logger
}

func NewKubernetesDispatcher(client kubernetes.Interface, command string, cfg KubernetesConfig, logger *slog.Logger) *KubernetesDispatcher {
	return &KubernetesDispatcher{
		client:  client,
		command: strings.Fields(command),
		config:  cfg,
		logger:  logger,
	}
}

// Dispatch returns as soon as the API server accepts the Job
func (d *KubernetesDispatcher) Dispatch(ctx context.Context, transactionID string) error {
	job := buildJob(d.config, workerJobPrefix, d.command, []string{transactionID}, map[string]string{
		LabelRole:          "worker",
		LabelTransactionID: transactionID,
	})

	created, err := d.client.BatchV1().Jobs(d.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create worker job for %s: %w", transactionID, err)
	}

	d.logger.Debug("worker job created",
		"transaction_id", transactionID,
		"job", created.Name,
		"namespace", d.config.Namespace)
	return nil
}

// KubernetesTrigger launches the extraction as a batch/v1 Job
type KubernetesTrigger struct {
	client  kubernetes.Interface
	command []string
	config  KubernetesConfig
	logger  *slog.Logger
}

func NewKubernetesTrigger(client kubernetes.Interface, command string, cfg KubernetesConfig, logger *slog.Logger) *KubernetesTrigger {
	return &KubernetesTrigger{
		client:  client,
		command: strings.Fields(command),
		config:  cfg,
		logger:  logger,
	}
}

func (t *KubernetesTrigger) Trigger(ctx context.Context) error {
	job := buildJob(t.config, extractJobPrefix, t.command, nil, map[string]string{
		LabelRole: "extract",
	})

	created, err := t.client.BatchV1().Jobs(t.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create extract job: %w", err)
	}

	t.logger.Debug("extract job created",
		"job", created.Name,
		"namespace", t.config.Namespace)
	return nil
}

// buildJob assembles a single-attempt Job. Names carry a random suffix so
// repeated launches for the same transaction never collide.
func buildJob(cfg KubernetesConfig, prefix string, command, args []string, labels map[string]string) *batchv1.Job {
	backoffLimit := int32(0)

	var ttl *int32
	if cfg.TTLSecondsAfterFinished > 0 {
		seconds := cfg.TTLSecondsAfterFinished
		ttl = &seconds
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      prefix + uuid.NewString()[:8],
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: cfg.ServiceAccount,
					Containers: []corev1.Container{
						{
							Name:    "main",
							Image:   cfg.Image,
							Command: command,
							Args:    args,
						},
					},
				},
			},
		},
	}
}
