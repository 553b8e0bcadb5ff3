package k8s

import "context"

const (
	// WorkflowServiceAccount runs in-cluster workflow controllers
	// spawned by cronjobs.
	WorkflowServiceAccount = "flume-workflow-controller"
	// StageServiceAccount runs stage pods.
	StageServiceAccount = "flume-stage"
)

// SetupNamespace prepares a namespace for pipeline runs: it creates
// the namespace if missing and ensures the service accounts pipeline
// workloads run under.
func SetupNamespace(ctx context.Context, client Client, namespace string) error {
	exists, err := client.NamespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		if err := client.CreateNamespace(ctx, namespace); err != nil {
			return err
		}
	}

	for _, account := range []string{WorkflowServiceAccount, StageServiceAccount} {
		if err := client.EnsureServiceAccount(ctx, namespace, account); err != nil {
			return err
		}
	}
	return nil
}
