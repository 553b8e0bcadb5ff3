package engine

import (
	"fmt"
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/k8s"
)

const (
	// PipelineLabel and StageLabel identify which pipeline and stage a
	// resource belongs to; AttemptLabel distinguishes retried batch
	// job instances.
	PipelineLabel = "flume.dev/pipeline"
	StageLabel    = "flume.dev/stage"
	AttemptLabel  = "flume.dev/attempt"

	// CommitHashEnvVar carries the deployed commit into stage
	// containers.
	CommitHashEnvVar = "FLUME_GIT_COMMIT_HASH"

	stageContainerName = "stage"
	ingressClassName   = "nginx"
)

// Translator builds cluster resource specs for the stages of one
// pipeline run. It holds the run-scoped inputs every resource needs:
// where the code lives and which namespace the resources go into.
type Translator struct {
	Namespace  string
	GitURL     string
	GitRef     string
	CommitHash string
}

// BuildJob returns the Job spec for one attempt of a batch stage.
// Retries are driven by the caller, so the job itself never restarts:
// backoffLimit is zero and the pod restart policy is Never.
func (t *Translator) BuildJob(d *descriptor.Descriptor, stage *descriptor.StageConfig, attempt int) (*batchv1.Job, error) {
	if stage.Batch == nil {
		return nil, &TranslationError{Stage: stage.Name, Field: "batch", Reason: "is not configured"}
	}
	if stage.Batch.Retries < 0 {
		return nil, &TranslationError{Stage: stage.Name, Field: "batch.retries", Reason: "must be non-negative"}
	}

	container, err := t.stageContainer(d, stage)
	if err != nil {
		return nil, err
	}

	name := k8s.StageResourceName(d.Project.Name, stage.Name)
	labels := t.stageLabels(d, stage)
	labels[AttemptLabel] = strconv.Itoa(attempt)

	backoffLimit := int32(0)
	completions := int32(1)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   t.Namespace,
			Labels:      labels,
			Annotations: t.sourceAnnotations(),
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Completions:  &completions,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers:    []corev1.Container{container},
				},
			},
		},
	}, nil
}

// BuildDeployment returns the Deployment spec for a service stage.
func (t *Translator) BuildDeployment(d *descriptor.Descriptor, stage *descriptor.StageConfig) (*appsv1.Deployment, error) {
	if stage.Service == nil {
		return nil, &TranslationError{Stage: stage.Name, Field: "service", Reason: "is not configured"}
	}
	if stage.Service.Replicas < 1 {
		return nil, &TranslationError{Stage: stage.Name, Field: "service.replicas", Reason: "must be at least 1"}
	}
	if stage.Service.Port < 1 || stage.Service.Port > 65535 {
		return nil, &TranslationError{Stage: stage.Name, Field: "service.port", Reason: "must be in 1-65535"}
	}

	container, err := t.stageContainer(d, stage)
	if err != nil {
		return nil, err
	}

	name := k8s.StageResourceName(d.Project.Name, stage.Name)
	labels := t.stageLabels(d, stage)
	labels["app"] = name

	annotations := t.sourceAnnotations()
	annotations[k8s.PortAnnotation] = strconv.Itoa(stage.Service.Port)

	replicas := int32(stage.Service.Replicas)

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   t.Namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}, nil
}

// BuildService returns the ClusterIP Service fronting a service
// stage's ready replicas.
func (t *Translator) BuildService(d *descriptor.Descriptor, stage *descriptor.StageConfig) (*corev1.Service, error) {
	if stage.Service == nil {
		return nil, &TranslationError{Stage: stage.Name, Field: "service", Reason: "is not configured"}
	}

	name := k8s.StageResourceName(d.Project.Name, stage.Name)
	port := int32(stage.Service.Port)

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: t.Namespace,
			Labels:    t.stageLabels(d, stage),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": name},
			Ports: []corev1.ServicePort{
				{Port: port, TargetPort: intstr.FromInt32(port), Protocol: corev1.ProtocolTCP},
			},
		},
	}, nil
}

// BuildIngress returns an Ingress routing /{namespace}/{name} to a
// service stage.
func (t *Translator) BuildIngress(d *descriptor.Descriptor, stage *descriptor.StageConfig) (*networkingv1.Ingress, error) {
	if stage.Service == nil {
		return nil, &TranslationError{Stage: stage.Name, Field: "service", Reason: "is not configured"}
	}

	name := k8s.StageResourceName(d.Project.Name, stage.Name)
	className := ingressClassName
	pathType := networkingv1.PathTypeImplementationSpecific
	path := fmt.Sprintf("/%s/%s(/|$)(.*)", t.Namespace, name)

	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: t.Namespace,
			Labels:    t.stageLabels(d, stage),
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/rewrite-target": "/$2",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: &className,
			Rules: []networkingv1.IngressRule{
				{
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     path,
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: name,
											Port: networkingv1.ServiceBackendPort{
												Number: int32(stage.Service.Port),
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

// stageContainer builds the container every stage resource shares: the
// pipeline image running `flume stage` against the pipeline repo.
func (t *Translator) stageContainer(d *descriptor.Descriptor, stage *descriptor.StageConfig) (corev1.Container, error) {
	if stage.CPURequest < 0 {
		return corev1.Container{}, &TranslationError{Stage: stage.Name, Field: "cpu_request", Reason: "must be non-negative"}
	}
	if stage.MemoryRequestMB < 0 {
		return corev1.Container{}, &TranslationError{Stage: stage.Name, Field: "memory_request_mb", Reason: "must be non-negative"}
	}

	args := []string{t.GitURL, stage.Name}
	if t.GitRef != "" {
		args = append(args, fmt.Sprintf("--ref=%s", t.GitRef))
	}

	env := []corev1.EnvVar{
		{Name: CommitHashEnvVar, Value: t.CommitHash},
	}
	for _, envName := range sortedKeys(stage.Secrets) {
		env = append(env, corev1.EnvVar{
			Name: envName,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: secretName(d.Project.SecretsGroup, stage.Secrets[envName]),
					},
					Key: envName,
				},
			},
		})
	}

	requests := corev1.ResourceList{}
	if stage.CPURequest > 0 {
		requests[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(stage.CPURequest*1000), resource.DecimalSI)
	}
	if stage.MemoryRequestMB > 0 {
		requests[corev1.ResourceMemory] = resource.MustParse(fmt.Sprintf("%dMi", stage.MemoryRequestMB))
	}

	return corev1.Container{
		Name:      stageContainerName,
		Image:     d.Project.DockerImage,
		Command:   []string{"flume", "stage"},
		Args:      args,
		Env:       env,
		Resources: corev1.ResourceRequirements{Requests: requests},
	}, nil
}

func (t *Translator) stageLabels(d *descriptor.Descriptor, stage *descriptor.StageConfig) map[string]string {
	return map[string]string{
		k8s.ManagedByLabel: k8s.ManagedByValue,
		PipelineLabel:      k8s.MakeValidName(d.Project.Name),
		StageLabel:         k8s.MakeValidName(stage.Name),
	}
}

func (t *Translator) sourceAnnotations() map[string]string {
	return map[string]string{
		k8s.GitURLAnnotation: t.GitURL,
		k8s.GitRefAnnotation: t.GitRef,
	}
}

// secretName resolves a descriptor secret reference to the cluster
// secret name, applying the project's secrets group prefix.
func secretName(group, name string) string {
	if group == "" {
		return name
	}
	return group + "-" + name
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
