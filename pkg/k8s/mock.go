package k8s

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
)

// MockClient is an in-memory Client for tests. Status queries pop
// values from scripted sequences so tests can drive a stage through
// several polling rounds; the last value in a sequence sticks.
type MockClient struct {
	mu sync.Mutex

	Namespaces      map[string]bool
	ServiceAccounts map[string]bool
	Jobs            map[string]*batchv1.Job
	Deployments     map[string]*appsv1.Deployment
	Services        map[string]*corev1.Service
	Ingresses       map[string]*networkingv1.Ingress
	CronJobs        map[string]*batchv1.CronJob
	Secrets         map[string]map[string]string
	PodLogs         map[string]string

	// JobStatuses holds per-job scripted status sequences, keyed by
	// namespace/name. Each GetJobStatus call consumes one entry.
	JobStatuses map[string][]JobStatus
	// ReadyReplicaSeq holds per-deployment scripted readiness
	// sequences, keyed by namespace/name.
	ReadyReplicaSeq map[string][]int32

	// Err, when set, is returned by every mutating call.
	Err error

	// Call recorders.
	CreatedJobs    []string
	DeletedJobs    []string
	RollbackCalls  []string
	UpdatedDeploys []string
}

// NewMockClient returns a MockClient with all state maps initialised.
func NewMockClient() *MockClient {
	return &MockClient{
		Namespaces:      make(map[string]bool),
		ServiceAccounts: make(map[string]bool),
		Jobs:            make(map[string]*batchv1.Job),
		Deployments:     make(map[string]*appsv1.Deployment),
		Services:        make(map[string]*corev1.Service),
		Ingresses:       make(map[string]*networkingv1.Ingress),
		CronJobs:        make(map[string]*batchv1.CronJob),
		Secrets:         make(map[string]map[string]string),
		PodLogs:         make(map[string]string),
		JobStatuses:     make(map[string][]JobStatus),
		ReadyReplicaSeq: make(map[string][]int32),
	}
}

func key(namespace, name string) string {
	return namespace + "/" + name
}

func (m *MockClient) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Namespaces[namespace], nil
}

func (m *MockClient) CreateNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Namespaces[namespace] = true
	return nil
}

func (m *MockClient) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.Namespaces, namespace)
	return nil
}

func (m *MockClient) EnsureServiceAccount(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ServiceAccounts[key(namespace, name)] = true
	return nil
}

func (m *MockClient) CreateJob(_ context.Context, job *batchv1.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(job.Namespace, job.Name)
	if _, exists := m.Jobs[k]; exists {
		return fmt.Errorf("job %s already exists", k)
	}
	m.Jobs[k] = job
	m.CreatedJobs = append(m.CreatedJobs, k)
	return nil
}

func (m *MockClient) GetJobStatus(_ context.Context, namespace, name string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(namespace, name)
	seq, ok := m.JobStatuses[k]
	if !ok || len(seq) == 0 {
		return JobUnknown, fmt.Errorf("job %s not found", k)
	}
	status := seq[0]
	if len(seq) > 1 {
		m.JobStatuses[k] = seq[1:]
	}
	return status, nil
}

func (m *MockClient) DeleteJob(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(namespace, name)
	delete(m.Jobs, k)
	m.DeletedJobs = append(m.DeletedJobs, k)
	return nil
}

func (m *MockClient) ListJobs(_ context.Context, namespace string) ([]JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []JobInfo
	for _, j := range m.Jobs {
		if j.Namespace != namespace {
			continue
		}
		infos = append(infos, JobInfo{
			Name:      j.Name,
			Namespace: j.Namespace,
			Succeeded: j.Status.Succeeded > 0,
		})
	}
	return infos, nil
}

func (m *MockClient) DeploymentExists(_ context.Context, namespace, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Deployments[key(namespace, name)]
	return ok, nil
}

func (m *MockClient) CreateDeployment(_ context.Context, deployment *appsv1.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Deployments[key(deployment.Namespace, deployment.Name)] = deployment
	return nil
}

func (m *MockClient) UpdateDeployment(_ context.Context, deployment *appsv1.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(deployment.Namespace, deployment.Name)
	if _, ok := m.Deployments[k]; !ok {
		return fmt.Errorf("deployment %s not found", k)
	}
	m.Deployments[k] = deployment
	m.UpdatedDeploys = append(m.UpdatedDeploys, k)
	return nil
}

func (m *MockClient) GetDeploymentReadyReplicas(_ context.Context, namespace, name string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(namespace, name)
	seq, ok := m.ReadyReplicaSeq[k]
	if !ok || len(seq) == 0 {
		return 0, fmt.Errorf("deployment %s not found", k)
	}
	ready := seq[0]
	if len(seq) > 1 {
		m.ReadyReplicaSeq[k] = seq[1:]
	}
	return ready, nil
}

func (m *MockClient) RollbackDeployment(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.RollbackCalls = append(m.RollbackCalls, key(namespace, name))
	return nil
}

func (m *MockClient) DeleteDeployment(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.Deployments, key(namespace, name))
	return nil
}

func (m *MockClient) ListDeployments(_ context.Context, namespace string) ([]DeploymentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []DeploymentInfo
	for k, d := range m.Deployments {
		if d.Namespace != namespace {
			continue
		}
		var desired int32
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		_, exposed := m.Services[k]
		infos = append(infos, DeploymentInfo{
			Name:            d.Name,
			Namespace:       d.Namespace,
			DesiredReplicas: desired,
			Port:            d.Annotations[PortAnnotation],
			Exposed:         exposed,
			GitURL:          d.Annotations[GitURLAnnotation],
			GitRef:          d.Annotations[GitRefAnnotation],
		})
	}
	return infos, nil
}

func (m *MockClient) ServiceExists(_ context.Context, namespace, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Services[key(namespace, name)]
	return ok, nil
}

func (m *MockClient) CreateService(_ context.Context, service *corev1.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Services[key(service.Namespace, service.Name)] = service
	return nil
}

func (m *MockClient) DeleteService(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.Services, key(namespace, name))
	return nil
}

func (m *MockClient) IngressExists(_ context.Context, namespace, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Ingresses[key(namespace, name)]
	return ok, nil
}

func (m *MockClient) CreateIngress(_ context.Context, ingress *networkingv1.Ingress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Ingresses[key(ingress.Namespace, ingress.Name)] = ingress
	return nil
}

func (m *MockClient) DeleteIngress(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.Ingresses, key(namespace, name))
	return nil
}

func (m *MockClient) CreateCronJob(_ context.Context, cronJob *batchv1.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(cronJob.Namespace, cronJob.Name)
	if _, exists := m.CronJobs[k]; exists {
		return fmt.Errorf("cronjob %s already exists", k)
	}
	m.CronJobs[k] = cronJob
	return nil
}

func (m *MockClient) UpdateCronJob(_ context.Context, cronJob *batchv1.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(cronJob.Namespace, cronJob.Name)
	if _, ok := m.CronJobs[k]; !ok {
		return fmt.Errorf("cronjob %s not found", k)
	}
	m.CronJobs[k] = cronJob
	return nil
}

func (m *MockClient) DeleteCronJob(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(namespace, name)
	if _, ok := m.CronJobs[k]; !ok {
		return fmt.Errorf("cronjob %s not found", k)
	}
	delete(m.CronJobs, k)
	return nil
}

func (m *MockClient) ListCronJobs(_ context.Context, namespace string) ([]CronJobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []CronJobInfo
	for _, cj := range m.CronJobs {
		if cj.Namespace != namespace {
			continue
		}
		info := CronJobInfo{
			Name:      cj.Name,
			Namespace: cj.Namespace,
			Schedule:  cj.Spec.Schedule,
			GitURL:    cj.Annotations[GitURLAnnotation],
			GitRef:    cj.Annotations[GitRefAnnotation],
		}
		if cj.Status.LastScheduleTime != nil {
			t := cj.Status.LastScheduleTime.Time
			info.LastScheduleTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *MockClient) SecretExists(_ context.Context, namespace, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Secrets[key(namespace, name)]
	return ok, nil
}

func (m *MockClient) CreateSecret(_ context.Context, namespace, name string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Secrets[key(namespace, name)] = data
	return nil
}

func (m *MockClient) DeleteSecret(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(namespace, name)
	if _, ok := m.Secrets[k]; !ok {
		return fmt.Errorf("secret %s not found", k)
	}
	delete(m.Secrets, k)
	return nil
}

func (m *MockClient) ListSecrets(_ context.Context, namespace string) ([]SecretInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []SecretInfo
	for k, data := range m.Secrets {
		ns, name, _ := strings.Cut(k, "/")
		if ns != namespace {
			continue
		}
		keys := make([]string, 0, len(data))
		for dk := range data {
			keys = append(keys, dk)
		}
		sort.Strings(keys)
		infos = append(infos, SecretInfo{Name: name, Keys: keys})
	}
	return infos, nil
}

func (m *MockClient) GetLatestPodName(_ context.Context, namespace, namePrefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.PodLogs {
		ns, name, _ := strings.Cut(k, "/")
		if ns == namespace && strings.HasPrefix(name, namePrefix) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no pod with name prefix %q in namespace %s", namePrefix, namespace)
}

func (m *MockClient) GetPodLogs(_ context.Context, namespace, podName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs, ok := m.PodLogs[key(namespace, podName)]
	if !ok {
		return "", fmt.Errorf("pod %s/%s not found", namespace, podName)
	}
	return logs, nil
}
