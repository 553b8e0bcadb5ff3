package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestNamespaceLifecycle(t *testing.T) {
	client := NewClusterClientFromClientset(fake.NewSimpleClientset())
	ctx := context.Background()

	exists, err := client.NamespaceExists(ctx, "pipelines")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.CreateNamespace(ctx, "pipelines"))

	exists, err = client.NamespaceExists(ctx, "pipelines")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.DeleteNamespace(ctx, "pipelines"))

	exists, err = client.NamespaceExists(ctx, "pipelines")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureServiceAccountIsIdempotent(t *testing.T) {
	client := NewClusterClientFromClientset(fake.NewSimpleClientset())
	ctx := context.Background()

	require.NoError(t, client.EnsureServiceAccount(ctx, "pipelines", "flume-stage"))
	require.NoError(t, client.EnsureServiceAccount(ctx, "pipelines", "flume-stage"))
}

func TestGetJobStatus(t *testing.T) {
	tests := []struct {
		name   string
		status batchv1.JobStatus
		want   JobStatus
	}{
		{"succeeded", batchv1.JobStatus{Succeeded: 1}, JobSucceeded},
		{"failed", batchv1.JobStatus{Failed: 1}, JobFailed},
		{"active", batchv1.JobStatus{Active: 1}, JobActive},
		{"just submitted", batchv1.JobStatus{}, JobActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &batchv1.Job{
				ObjectMeta: metav1.ObjectMeta{Name: "proj--train", Namespace: "pipelines"},
				Status:     tt.status,
			}
			client := NewClusterClientFromClientset(fake.NewSimpleClientset(job))

			got, err := client.GetJobStatus(context.Background(), "pipelines", "proj--train")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetJobStatusMissingJob(t *testing.T) {
	client := NewClusterClientFromClientset(fake.NewSimpleClientset())

	_, err := client.GetJobStatus(context.Background(), "pipelines", "nope")
	assert.Error(t, err)
}

func TestDeleteJobToleratesMissingJob(t *testing.T) {
	client := NewClusterClientFromClientset(fake.NewSimpleClientset())

	assert.NoError(t, client.DeleteJob(context.Background(), "pipelines", "gone"))
}

func TestRollbackDeploymentRestoresPreviousTemplate(t *testing.T) {
	ctx := context.Background()
	labels := map[string]string{"app": "proj--serve"}

	oldTemplate := podTemplate(labels, "old-image:1.0")
	newTemplate := podTemplate(labels, "new-image:2.0")

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "proj--serve",
			Namespace:   "pipelines",
			Annotations: map[string]string{revisionAnnotation: "2"},
		},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: newTemplate,
		},
	}
	oldRS := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "proj--serve-aaa",
			Namespace:   "pipelines",
			Labels:      labels,
			Annotations: map[string]string{revisionAnnotation: "1"},
		},
		Spec: appsv1.ReplicaSetSpec{Template: oldTemplate},
	}
	newRS := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "proj--serve-bbb",
			Namespace:   "pipelines",
			Labels:      labels,
			Annotations: map[string]string{revisionAnnotation: "2"},
		},
		Spec: appsv1.ReplicaSetSpec{Template: newTemplate},
	}

	client := NewClusterClientFromClientset(fake.NewSimpleClientset(deployment, oldRS, newRS))

	require.NoError(t, client.RollbackDeployment(ctx, "pipelines", "proj--serve"))

	patched, err := client.clientset.AppsV1().Deployments("pipelines").Get(ctx, "proj--serve", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "old-image:1.0", patched.Spec.Template.Spec.Containers[0].Image)
}

func TestRollbackDeploymentWithSingleRevision(t *testing.T) {
	ctx := context.Background()
	labels := map[string]string{"app": "proj--serve"}
	template := podTemplate(labels, "only-image:1.0")

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "proj--serve",
			Namespace:   "pipelines",
			Annotations: map[string]string{revisionAnnotation: "1"},
		},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: template,
		},
	}
	rs := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "proj--serve-aaa",
			Namespace:   "pipelines",
			Labels:      labels,
			Annotations: map[string]string{revisionAnnotation: "1"},
		},
		Spec: appsv1.ReplicaSetSpec{Template: template},
	}

	client := NewClusterClientFromClientset(fake.NewSimpleClientset(deployment, rs))

	require.NoError(t, client.RollbackDeployment(ctx, "pipelines", "proj--serve"))

	patched, err := client.clientset.AppsV1().Deployments("pipelines").Get(ctx, "proj--serve", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "only-image:1.0", patched.Spec.Template.Spec.Containers[0].Image)
}

func TestListDeploymentsFiltersByManagedLabel(t *testing.T) {
	ctx := context.Background()
	replicas := int32(2)

	managed := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "proj--serve",
			Namespace: "pipelines",
			Labels:    map[string]string{ManagedByLabel: ManagedByValue},
			Annotations: map[string]string{
				PortAnnotation:   "5000",
				GitURLAnnotation: "https://github.com/org/proj",
				GitRefAnnotation: "main",
			},
		},
		Spec: appsv1.DeploymentSpec{Replicas: &replicas},
	}
	unmanaged := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: "pipelines"},
	}

	client := NewClusterClientFromClientset(fake.NewSimpleClientset(managed, unmanaged))

	infos, err := client.ListDeployments(ctx, "pipelines")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "proj--serve", infos[0].Name)
	assert.Equal(t, "5000", infos[0].Port)
	assert.Equal(t, "https://github.com/org/proj", infos[0].GitURL)
	assert.Equal(t, "main", infos[0].GitRef)
	assert.Equal(t, int32(2), infos[0].DesiredReplicas)
	assert.False(t, infos[0].Exposed)
}

func TestSecretLifecycle(t *testing.T) {
	client := NewClusterClientFromClientset(fake.NewSimpleClientset())
	ctx := context.Background()

	exists, err := client.SecretExists(ctx, "pipelines", "aws-creds")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.CreateSecret(ctx, "pipelines", "aws-creds", map[string]string{
		"AWS_ACCESS_KEY_ID":     "id",
		"AWS_SECRET_ACCESS_KEY": "key",
	}))

	exists, err = client.SecretExists(ctx, "pipelines", "aws-creds")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.DeleteSecret(ctx, "pipelines", "aws-creds"))

	exists, err = client.SecretExists(ctx, "pipelines", "aws-creds")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListCronJobs(t *testing.T) {
	scheduled := metav1.NewTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	cj := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "nightly",
			Namespace: "pipelines",
			Labels:    map[string]string{ManagedByLabel: ManagedByValue},
			Annotations: map[string]string{
				GitURLAnnotation: "https://github.com/org/proj",
				GitRefAnnotation: "main",
			},
		},
		Spec:   batchv1.CronJobSpec{Schedule: "0 2 * * *"},
		Status: batchv1.CronJobStatus{LastScheduleTime: &scheduled},
	}

	client := NewClusterClientFromClientset(fake.NewSimpleClientset(cj))

	infos, err := client.ListCronJobs(context.Background(), "pipelines")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "nightly", infos[0].Name)
	assert.Equal(t, "0 2 * * *", infos[0].Schedule)
	assert.Equal(t, "main", infos[0].GitRef)
	require.NotNil(t, infos[0].LastScheduleTime)
	assert.Equal(t, scheduled.Time, *infos[0].LastScheduleTime)
}

func TestGetLatestPodName(t *testing.T) {
	older := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "proj--train-abc",
			Namespace:         "pipelines",
			CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Hour)),
		},
	}
	newer := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "proj--train-def",
			Namespace:         "pipelines",
			CreationTimestamp: metav1.NewTime(time.Now()),
		},
	}
	unrelated := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "other-pod", Namespace: "pipelines"},
	}

	client := NewClusterClientFromClientset(fake.NewSimpleClientset(older, newer, unrelated))

	name, err := client.GetLatestPodName(context.Background(), "pipelines", "proj--train")
	require.NoError(t, err)
	assert.Equal(t, "proj--train-def", name)

	_, err = client.GetLatestPodName(context.Background(), "pipelines", "missing")
	assert.Error(t, err)
}

func podTemplate(labels map[string]string, image string) corev1.PodTemplateSpec {
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: labels},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "stage", Image: image}},
		},
	}
}
