package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// ManagedByLabel marks every resource flume creates.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	// ManagedByValue is the label value identifying flume resources.
	ManagedByValue = "flume"

	// PortAnnotation records a service stage's container port.
	PortAnnotation = "flume.dev/port"
	// GitURLAnnotation records the pipeline repository URL.
	GitURLAnnotation = "flume.dev/git-url"
	// GitRefAnnotation records the pipeline repository ref.
	GitRefAnnotation = "flume.dev/git-ref"

	revisionAnnotation = "deployment.kubernetes.io/revision"
)

// ClusterClient implements Client against a real Kubernetes cluster.
type ClusterClient struct {
	clientset kubernetes.Interface
}

// NewClusterClient connects to the cluster, preferring in-cluster
// service account credentials and falling back to a kubeconfig file.
func NewClusterClient(kubeconfigPath string) (*ClusterClient, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, fmt.Errorf("locate kubeconfig: %w", herr)
			}
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig from %s: %w", kubeconfigPath, err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}

	return &ClusterClient{clientset: clientset}, nil
}

// NewClusterClientFromClientset wraps an existing clientset. Used in
// tests with a fake clientset.
func NewClusterClientFromClientset(clientset kubernetes.Interface) *ClusterClient {
	return &ClusterClient{clientset: clientset}
}

func (c *ClusterClient) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get namespace %s: %w", namespace, err)
	}
	return true, nil
}

func (c *ClusterClient) CreateNamespace(ctx context.Context, namespace string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: namespace},
	}
	if _, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}
	return nil
}

func (c *ClusterClient) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := c.clientset.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

func (c *ClusterClient) EnsureServiceAccount(ctx context.Context, namespace, name string) error {
	_, err := c.clientset.CoreV1().ServiceAccounts(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get service account %s/%s: %w", namespace, name, err)
	}

	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{ManagedByLabel: ManagedByValue},
		},
	}
	if _, err := c.clientset.CoreV1().ServiceAccounts(namespace).Create(ctx, sa, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create service account %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := c.clientset.BatchV1().Jobs(job.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create job %s/%s: %w", job.Namespace, job.Name, err)
	}
	return nil
}

func (c *ClusterClient) GetJobStatus(ctx context.Context, namespace, name string) (JobStatus, error) {
	job, err := c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return JobUnknown, fmt.Errorf("get job %s/%s: %w", namespace, name, err)
	}

	switch {
	case job.Status.Succeeded > 0:
		return JobSucceeded, nil
	case job.Status.Failed > 0:
		return JobFailed, nil
	default:
		// Counts are all zero right after submission, before the
		// first pod is scheduled.
		return JobActive, nil
	}
}

func (c *ClusterClient) DeleteJob(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete job %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) ListJobs(ctx context.Context, namespace string) ([]JobInfo, error) {
	jobs, err := c.clientset.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ManagedByLabel, ManagedByValue),
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs in %s: %w", namespace, err)
	}

	infos := make([]JobInfo, 0, len(jobs.Items))
	for _, j := range jobs.Items {
		info := JobInfo{
			Name:      j.Name,
			Namespace: j.Namespace,
			Succeeded: j.Status.Succeeded > 0,
		}
		if j.Status.StartTime != nil {
			t := j.Status.StartTime.Time
			info.StartTime = &t
		}
		if j.Status.CompletionTime != nil {
			t := j.Status.CompletionTime.Time
			info.CompletionTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *ClusterClient) DeploymentExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get deployment %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

func (c *ClusterClient) CreateDeployment(ctx context.Context, deployment *appsv1.Deployment) error {
	_, err := c.clientset.AppsV1().Deployments(deployment.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create deployment %s/%s: %w", deployment.Namespace, deployment.Name, err)
	}
	return nil
}

func (c *ClusterClient) UpdateDeployment(ctx context.Context, deployment *appsv1.Deployment) error {
	_, err := c.clientset.AppsV1().Deployments(deployment.Namespace).Update(ctx, deployment, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("update deployment %s/%s: %w", deployment.Namespace, deployment.Name, err)
	}
	return nil
}

func (c *ClusterClient) GetDeploymentReadyReplicas(ctx context.Context, namespace, name string) (int32, error) {
	deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("get deployment %s/%s: %w", namespace, name, err)
	}
	return deployment.Status.ReadyReplicas, nil
}

// RollbackDeployment reverts a deployment to its previous ReplicaSet
// revision. The Kubernetes API has no dedicated rollback endpoint, so
// this reproduces the patch sequence issued by `kubectl rollout undo`.
func (c *ClusterClient) RollbackDeployment(ctx context.Context, namespace, name string) error {
	deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get deployment %s/%s: %w", namespace, name, err)
	}

	selector := metav1.FormatLabelSelector(deployment.Spec.Selector)
	replicaSets, err := c.clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return fmt.Errorf("list replica sets for %s/%s: %w", namespace, name, err)
	}
	if len(replicaSets.Items) == 0 {
		return fmt.Errorf("no replica sets found for deployment %s/%s", namespace, name)
	}

	ordered := replicaSets.Items
	sort.Slice(ordered, func(i, j int) bool {
		return replicaSetRevision(&ordered[i]) > replicaSetRevision(&ordered[j])
	})

	target := &ordered[0]
	if len(ordered) > 1 {
		target = &ordered[1]
	}

	annotations := map[string]string{
		revisionAnnotation: target.Annotations[revisionAnnotation],
	}
	for k, v := range deployment.Annotations {
		annotations[k] = v
	}

	patch := []map[string]any{
		{"op": "replace", "path": "/spec/template", "value": target.Spec.Template},
		{"op": "replace", "path": "/metadata/annotations", "value": annotations},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal rollback patch: %w", err)
	}

	_, err = c.clientset.AppsV1().Deployments(namespace).Patch(
		ctx, name, types.JSONPatchType, data, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("rollback deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

func replicaSetRevision(rs *appsv1.ReplicaSet) int {
	n, _ := strconv.Atoi(rs.Annotations[revisionAnnotation])
	return n
}

func (c *ClusterClient) DeleteDeployment(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) ListDeployments(ctx context.Context, namespace string) ([]DeploymentInfo, error) {
	deployments, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ManagedByLabel, ManagedByValue),
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %s: %w", namespace, err)
	}

	infos := make([]DeploymentInfo, 0, len(deployments.Items))
	for _, d := range deployments.Items {
		exposed, err := c.ServiceExists(ctx, namespace, d.Name)
		if err != nil {
			return nil, err
		}
		var desired int32
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		infos = append(infos, DeploymentInfo{
			Name:            d.Name,
			Namespace:       d.Namespace,
			ReadyReplicas:   d.Status.ReadyReplicas,
			DesiredReplicas: desired,
			Port:            d.Annotations[PortAnnotation],
			Exposed:         exposed,
			GitURL:          d.Annotations[GitURLAnnotation],
			GitRef:          d.Annotations[GitRefAnnotation],
		})
	}
	return infos, nil
}

func (c *ClusterClient) ServiceExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get service %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

func (c *ClusterClient) CreateService(ctx context.Context, service *corev1.Service) error {
	_, err := c.clientset.CoreV1().Services(service.Namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create service %s/%s: %w", service.Namespace, service.Name, err)
	}
	return nil
}

func (c *ClusterClient) DeleteService(ctx context.Context, namespace, name string) error {
	err := c.clientset.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete service %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) IngressExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.clientset.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get ingress %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

func (c *ClusterClient) CreateIngress(ctx context.Context, ingress *networkingv1.Ingress) error {
	_, err := c.clientset.NetworkingV1().Ingresses(ingress.Namespace).Create(ctx, ingress, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create ingress %s/%s: %w", ingress.Namespace, ingress.Name, err)
	}
	return nil
}

func (c *ClusterClient) DeleteIngress(ctx context.Context, namespace, name string) error {
	err := c.clientset.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete ingress %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) CreateCronJob(ctx context.Context, cronJob *batchv1.CronJob) error {
	_, err := c.clientset.BatchV1().CronJobs(cronJob.Namespace).Create(ctx, cronJob, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create cronjob %s/%s: %w", cronJob.Namespace, cronJob.Name, err)
	}
	return nil
}

func (c *ClusterClient) UpdateCronJob(ctx context.Context, cronJob *batchv1.CronJob) error {
	_, err := c.clientset.BatchV1().CronJobs(cronJob.Namespace).Update(ctx, cronJob, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("update cronjob %s/%s: %w", cronJob.Namespace, cronJob.Name, err)
	}
	return nil
}

func (c *ClusterClient) DeleteCronJob(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().CronJobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete cronjob %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) ListCronJobs(ctx context.Context, namespace string) ([]CronJobInfo, error) {
	cronJobs, err := c.clientset.BatchV1().CronJobs(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ManagedByLabel, ManagedByValue),
	})
	if err != nil {
		return nil, fmt.Errorf("list cronjobs in %s: %w", namespace, err)
	}

	infos := make([]CronJobInfo, 0, len(cronJobs.Items))
	for _, cj := range cronJobs.Items {
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

func (c *ClusterClient) SecretExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get secret %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

func (c *ClusterClient) CreateSecret(ctx context.Context, namespace, name string, data map[string]string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{ManagedByLabel: ManagedByValue},
		},
		StringData: data,
	}
	if _, err := c.clientset.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) DeleteSecret(ctx context.Context, namespace, name string) error {
	err := c.clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *ClusterClient) ListSecrets(ctx context.Context, namespace string) ([]SecretInfo, error) {
	secrets, err := c.clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ManagedByLabel, ManagedByValue),
	})
	if err != nil {
		return nil, fmt.Errorf("list secrets in %s: %w", namespace, err)
	}

	infos := make([]SecretInfo, 0, len(secrets.Items))
	for _, s := range secrets.Items {
		keys := make([]string, 0, len(s.Data))
		for k := range s.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		infos = append(infos, SecretInfo{Name: s.Name, Keys: keys})
	}
	return infos, nil
}

func (c *ClusterClient) GetLatestPodName(ctx context.Context, namespace, namePrefix string) (string, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list pods in %s: %w", namespace, err)
	}

	var latest *corev1.Pod
	for i := range pods.Items {
		pod := &pods.Items[i]
		if !strings.HasPrefix(pod.Name, namePrefix) {
			continue
		}
		if latest == nil || pod.CreationTimestamp.After(latest.CreationTimestamp.Time) {
			latest = pod
		}
	}
	if latest == nil {
		return "", fmt.Errorf("no pod with name prefix %q in namespace %s", namePrefix, namespace)
	}
	return latest.Name, nil
}

func (c *ClusterClient) GetPodLogs(ctx context.Context, namespace, podName string) (string, error) {
	req := c.clientset.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{})
	raw, err := req.Do(ctx).Raw()
	if err != nil {
		return "", fmt.Errorf("get logs for pod %s/%s: %w", namespace, podName, err)
	}
	return string(raw), nil
}
