// Package schedule manages time-triggered pipeline runs. A schedule is
// a cluster CronJob whose job template runs `flume deploy` in-cluster;
// all graph and lifecycle logic stays in the engine the spawned
// command drives.
package schedule

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flumeworks/flume/pkg/k8s"
)

// DefaultControllerImage runs scheduled workflow controllers when no
// image is configured.
const DefaultControllerImage = "flumeworks/flume:latest"

var cronField = regexp.MustCompile(`^[0-9A-Za-z*,/-]+$`)

// InvalidScheduleError reports a malformed cron expression.
type InvalidScheduleError struct {
	Schedule string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid cron schedule %q: want five space-separated fields", e.Schedule)
}

// Trigger describes one scheduled pipeline run.
type Trigger struct {
	Name     string
	Schedule string
	GitURL   string
	GitRef   string
	// Retries is the backoff limit for each spawned workflow job.
	Retries int
}

// Scheduler creates and maintains workflow triggers in one namespace.
type Scheduler struct {
	client          k8s.Client
	namespace       string
	controllerImage string
}

// NewScheduler returns a Scheduler for the given namespace. An empty
// controllerImage selects DefaultControllerImage.
func NewScheduler(client k8s.Client, namespace, controllerImage string) *Scheduler {
	if controllerImage == "" {
		controllerImage = DefaultControllerImage
	}
	return &Scheduler{
		client:          client,
		namespace:       namespace,
		controllerImage: controllerImage,
	}
}

// Create registers a new trigger.
func (s *Scheduler) Create(ctx context.Context, trigger Trigger) error {
	cronJob, err := s.buildCronJob(trigger)
	if err != nil {
		return err
	}
	return s.client.CreateCronJob(ctx, cronJob)
}

// Update replaces an existing trigger's schedule and source.
func (s *Scheduler) Update(ctx context.Context, trigger Trigger) error {
	cronJob, err := s.buildCronJob(trigger)
	if err != nil {
		return err
	}
	return s.client.UpdateCronJob(ctx, cronJob)
}

// Delete removes a trigger.
func (s *Scheduler) Delete(ctx context.Context, name string) error {
	return s.client.DeleteCronJob(ctx, s.namespace, k8s.MakeValidName(name))
}

// List returns all triggers in the scheduler's namespace.
func (s *Scheduler) List(ctx context.Context) ([]k8s.CronJobInfo, error) {
	return s.client.ListCronJobs(ctx, s.namespace)
}

// History returns the workflow jobs past trigger firings left behind.
func (s *Scheduler) History(ctx context.Context) ([]k8s.JobInfo, error) {
	return s.client.ListJobs(ctx, s.namespace)
}

func (s *Scheduler) buildCronJob(trigger Trigger) (*batchv1.CronJob, error) {
	if err := ValidateCronSchedule(trigger.Schedule); err != nil {
		return nil, err
	}
	if trigger.GitURL == "" {
		return nil, fmt.Errorf("trigger %q has no git repository URL", trigger.Name)
	}

	name := k8s.MakeValidName(trigger.Name)
	labels := map[string]string{k8s.ManagedByLabel: k8s.ManagedByValue}
	annotations := map[string]string{
		k8s.GitURLAnnotation: trigger.GitURL,
		k8s.GitRefAnnotation: trigger.GitRef,
	}

	args := []string{trigger.GitURL}
	if trigger.GitRef != "" {
		args = append(args, fmt.Sprintf("--ref=%s", trigger.GitRef))
	}
	args = append(args, fmt.Sprintf("--namespace=%s", s.namespace))

	backoffLimit := int32(trigger.Retries)
	historyLimit := int32(3)

	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   s.namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: batchv1.CronJobSpec{
			Schedule:                   trigger.Schedule,
			SuccessfulJobsHistoryLimit: &historyLimit,
			FailedJobsHistoryLimit:     &historyLimit,
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels, Annotations: annotations},
				Spec: batchv1.JobSpec{
					BackoffLimit: &backoffLimit,
					Template: corev1.PodTemplateSpec{
						ObjectMeta: metav1.ObjectMeta{Labels: labels},
						Spec: corev1.PodSpec{
							ServiceAccountName: k8s.WorkflowServiceAccount,
							RestartPolicy:      corev1.RestartPolicyNever,
							Containers: []corev1.Container{
								{
									Name:    "workflow-controller",
									Image:   s.controllerImage,
									Command: []string{"flume", "deploy"},
									Args:    args,
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

// ValidateCronSchedule checks the five-field cron expression format.
// The cluster does the authoritative parse; this catches typos before
// anything is submitted.
func ValidateCronSchedule(schedule string) error {
	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return &InvalidScheduleError{Schedule: schedule}
	}
	for _, field := range fields {
		if !cronField.MatchString(field) {
			return &InvalidScheduleError{Schedule: schedule}
		}
	}
	return nil
}
