package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// createTestLogger creates a logger for testing
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// writeScript creates an executable shell script that appends its
// arguments to out
func writeScript(t *testing.T, dir, out string) string {
	t.Helper()
	path := filepath.Join(dir, "worker.sh")
	script := "#!/bin/sh\necho \"$@\" >> " + out + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func readLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Fields(strings.TrimSpace(string(data)))
}

// ==============================================================================
// Config
// ==============================================================================

func TestConfig_Validate(t *testing.T) {
	k8s := DefaultConfig()
	k8s.Mode = ModeKubernetes
	k8s.Kubernetes.Image = "registry.local/ganymede-worker:1.0"

	noImage := k8s
	noImage.Kubernetes.Image = ""

	badMode := DefaultConfig()
	badMode.Mode = "ssh"

	noWorker := DefaultConfig()
	noWorker.WorkerCommand = "  "

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"default exec", DefaultConfig(), ""},
		{"kubernetes", k8s, ""},
		{"kubernetes without image", noImage, "image"},
		{"unknown mode", badMode, "unsupported dispatch mode"},
		{"empty worker command", noWorker, "worker_command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewBackend(t *testing.T) {
	backend, err := NewBackend(DefaultConfig(), nil, createTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &ExecDispatcher{}, backend.Dispatcher)
	assert.IsType(t, &ExecTrigger{}, backend.Trigger)

	cfg := DefaultConfig()
	cfg.Mode = ModeKubernetes
	cfg.Kubernetes.Image = "worker:latest"
	backend, err = NewBackend(cfg, fake.NewSimpleClientset(), createTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &KubernetesDispatcher{}, backend.Dispatcher)
	assert.IsType(t, &KubernetesTrigger{}, backend.Trigger)

	cfg.Mode = "ssh"
	_, err = NewBackend(cfg, nil, createTestLogger())
	assert.Error(t, err)
}

// ==============================================================================
// Exec backend
// ==============================================================================

func TestExecDispatcher_StartsWorkerWithTransactionID(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "calls")
	script := writeScript(t, dir, out)

	d := NewExecDispatcher(script, createTestLogger())
	require.NoError(t, d.Dispatch(context.Background(), "3f1c9a52-1b7e-4d2a-9c0e-5b8a7d6e4f21"))

	require.Eventually(t, func() bool {
		return len(readLines(out)) == 1
	}, 5*time.Second, 10*time.Millisecond, "worker never ran")
	assert.Equal(t, []string{"3f1c9a52-1b7e-4d2a-9c0e-5b8a7d6e4f21"}, readLines(out))
}

func TestExecDispatcher_CommandWithArguments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "calls")
	script := writeScript(t, dir, out)

	d := NewExecDispatcher(script+" --geo", createTestLogger())
	require.NoError(t, d.Dispatch(context.Background(), "t1"))

	require.Eventually(t, func() bool {
		return len(readLines(out)) == 2
	}, 5*time.Second, 10*time.Millisecond, "worker never ran")
	assert.Equal(t, []string{"--geo", "t1"}, readLines(out))
}

func TestExecDispatcher_MissingBinary(t *testing.T) {
	d := NewExecDispatcher(filepath.Join(t.TempDir(), "missing"), createTestLogger())

	err := d.Dispatch(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t1")
}

func TestExecTrigger(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "calls")
	script := writeScript(t, dir, out)

	trigger := NewExecTrigger(script+" extract", createTestLogger())
	require.NoError(t, trigger.Trigger(context.Background()))

	require.Eventually(t, func() bool {
		return len(readLines(out)) == 1
	}, 5*time.Second, 10*time.Millisecond, "extract never ran")

	assert.Error(t, NewExecTrigger("", createTestLogger()).Trigger(context.Background()))
}

// ==============================================================================
// Kubernetes backend
// ==============================================================================

func testKubernetesConfig() KubernetesConfig {
	return KubernetesConfig{
		Namespace:               "ganymede",
		Image:                   "registry.local/ganymede-worker:1.0",
		ServiceAccount:          "ganymede-worker",
		TTLSecondsAfterFinished: 600,
	}
}

func TestKubernetesDispatcher_CreatesJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	d := NewKubernetesDispatcher(client, "/usr/local/bin/ganymede_worker.sh", testKubernetesConfig(), createTestLogger())

	require.NoError(t, d.Dispatch(context.Background(), "t1"))

	jobs, err := client.BatchV1().Jobs("ganymede").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs.Items, 1)

	job := jobs.Items[0]
	assert.True(t, strings.HasPrefix(job.Name, "ganymede-worker-"))
	assert.Equal(t, "t1", job.Labels[LabelTransactionID])
	assert.Equal(t, "worker", job.Labels[LabelRole])
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	require.NotNil(t, job.Spec.TTLSecondsAfterFinished)
	assert.Equal(t, int32(600), *job.Spec.TTLSecondsAfterFinished)

	pod := job.Spec.Template.Spec
	assert.Equal(t, "Never", string(pod.RestartPolicy))
	assert.Equal(t, "ganymede-worker", pod.ServiceAccountName)
	require.Len(t, pod.Containers, 1)
	assert.Equal(t, "registry.local/ganymede-worker:1.0", pod.Containers[0].Image)
	assert.Equal(t, []string{"/usr/local/bin/ganymede_worker.sh"}, pod.Containers[0].Command)
	assert.Equal(t, []string{"t1"}, pod.Containers[0].Args)
}

func TestKubernetesDispatcher_RepeatDispatchCreatesNewJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	d := NewKubernetesDispatcher(client, "worker", testKubernetesConfig(), createTestLogger())

	require.NoError(t, d.Dispatch(context.Background(), "t1"))
	require.NoError(t, d.Dispatch(context.Background(), "t1"))

	jobs, err := client.BatchV1().Jobs("ganymede").List(context.Background(), metav1.ListOptions{
		LabelSelector: LabelTransactionID + "=t1",
	})
	require.NoError(t, err)
	assert.Len(t, jobs.Items, 2)
}

func TestKubernetesDispatcher_APIError(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("exceeded quota")
	})
	d := NewKubernetesDispatcher(client, "worker", testKubernetesConfig(), createTestLogger())

	err := d.Dispatch(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded quota")
}

func TestKubernetesTrigger_CreatesExtractJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	config := testKubernetesConfig()
	config.TTLSecondsAfterFinished = 0
	trigger := NewKubernetesTrigger(client, "/usr/local/bin/ganymede_leopard_extract.sh", config, createTestLogger())

	require.NoError(t, trigger.Trigger(context.Background()))

	jobs, err := client.BatchV1().Jobs("ganymede").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs.Items, 1)

	job := jobs.Items[0]
	assert.True(t, strings.HasPrefix(job.Name, "ganymede-extract-"))
	assert.Equal(t, "extract", job.Labels[LabelRole])
	assert.Nil(t, job.Spec.TTLSecondsAfterFinished)
	assert.Empty(t, job.Spec.Template.Spec.Containers[0].Args)
}
