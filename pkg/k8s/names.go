package k8s

import (
	"regexp"
	"strings"
)

// ResourceNameSeparator joins a pipeline name and a stage name into the
// cluster resource name for that stage. Name-based addressing keeps
// stages of the same pipeline, and concurrent pipelines in different
// namespaces, from colliding.
const ResourceNameSeparator = "--"

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]`)

// StageResourceName returns the {namespace, name} address for a stage's
// resources: pipelineName--stageName, normalised to a valid DNS label.
func StageResourceName(pipelineName, stageName string) string {
	return MakeValidName(pipelineName) + ResourceNameSeparator + MakeValidName(stageName)
}

// MakeValidName coerces an arbitrary identifier into a valid Kubernetes
// resource name: lowercase alphanumerics and hyphens.
func MakeValidName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, " ", "-")
	name = invalidNameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "-")
}
