// Package k8s is the interface to the Kubernetes APIs consumed by the
// workflow engine: jobs, deployments, services, ingresses, cronjobs,
// secrets, namespaces and pod logs, all addressed by {namespace, name}.
package k8s

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
)

// JobStatus is the observed state of a run-to-completion resource.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobUnknown   JobStatus = "unknown"
)

// DeploymentInfo is the high-level view of a service deployment used by
// list commands.
type DeploymentInfo struct {
	Name            string `json:"name"`
	Namespace       string `json:"namespace"`
	ReadyReplicas   int32  `json:"ready_replicas"`
	DesiredReplicas int32  `json:"desired_replicas"`
	Port            string `json:"port"`
	Exposed         bool   `json:"exposed"`
	GitURL          string `json:"git_url"`
	GitRef          string `json:"git_ref"`
}

// CronJobInfo is the high-level view of a scheduled workflow trigger.
type CronJobInfo struct {
	Name             string     `json:"name"`
	Namespace        string     `json:"namespace"`
	Schedule         string     `json:"schedule"`
	GitURL           string     `json:"git_url"`
	GitRef           string     `json:"git_ref"`
	LastScheduleTime *time.Time `json:"last_schedule_time,omitempty"`
}

// JobInfo is the high-level view of a finished or running workflow job.
type JobInfo struct {
	Name           string     `json:"name"`
	Namespace      string     `json:"namespace"`
	Succeeded      bool       `json:"succeeded"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

// SecretInfo lists a secret's name and its keys, never its values.
type SecretInfo struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// Client is the orchestration API surface the engine drives. The real
// implementation wraps client-go; a mock drives the engine tests.
type Client interface {
	// Namespaces.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	CreateNamespace(ctx context.Context, namespace string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	EnsureServiceAccount(ctx context.Context, namespace, name string) error

	// Run-to-completion resources.
	CreateJob(ctx context.Context, job *batchv1.Job) error
	GetJobStatus(ctx context.Context, namespace, name string) (JobStatus, error)
	DeleteJob(ctx context.Context, namespace, name string) error
	ListJobs(ctx context.Context, namespace string) ([]JobInfo, error)

	// Replica-managed resources.
	DeploymentExists(ctx context.Context, namespace, name string) (bool, error)
	CreateDeployment(ctx context.Context, deployment *appsv1.Deployment) error
	UpdateDeployment(ctx context.Context, deployment *appsv1.Deployment) error
	GetDeploymentReadyReplicas(ctx context.Context, namespace, name string) (int32, error)
	RollbackDeployment(ctx context.Context, namespace, name string) error
	DeleteDeployment(ctx context.Context, namespace, name string) error
	ListDeployments(ctx context.Context, namespace string) ([]DeploymentInfo, error)

	// Stable network endpoints.
	ServiceExists(ctx context.Context, namespace, name string) (bool, error)
	CreateService(ctx context.Context, service *corev1.Service) error
	DeleteService(ctx context.Context, namespace, name string) error
	IngressExists(ctx context.Context, namespace, name string) (bool, error)
	CreateIngress(ctx context.Context, ingress *networkingv1.Ingress) error
	DeleteIngress(ctx context.Context, namespace, name string) error

	// Scheduled triggers.
	CreateCronJob(ctx context.Context, cronJob *batchv1.CronJob) error
	UpdateCronJob(ctx context.Context, cronJob *batchv1.CronJob) error
	DeleteCronJob(ctx context.Context, namespace, name string) error
	ListCronJobs(ctx context.Context, namespace string) ([]CronJobInfo, error)

	// Secrets. Values are written, never read back.
	SecretExists(ctx context.Context, namespace, name string) (bool, error)
	CreateSecret(ctx context.Context, namespace, name string, data map[string]string) error
	DeleteSecret(ctx context.Context, namespace, name string) error
	ListSecrets(ctx context.Context, namespace string) ([]SecretInfo, error)

	// Pod logs.
	GetLatestPodName(ctx context.Context, namespace, namePrefix string) (string, error)
	GetPodLogs(ctx context.Context, namespace, podName string) (string, error)
}

// Compile-time assertions.
var (
	_ Client = (*ClusterClient)(nil)
	_ Client = (*MockClient)(nil)
)
