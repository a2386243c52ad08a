package judgehost

import (
	"fmt"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	apiVersion = "serving.kserve.io/v1beta1"
	kind       = "InferenceService"
	managedBy  = "agent-testing"

	// targetLabel records which target a judge was deployed for.
	targetLabel = "agent-testing.giantswarm.io/target"
)

var isvcGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// inferenceService is the subset of the KServe v1beta1 InferenceService that
// a judge deployment needs. The KServe SDK is avoided on purpose: it pins
// Kubernetes library versions.
type inferenceService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   isvcSpec   `json:"spec,omitempty"`
	Status isvcStatus `json:"status,omitempty"`
}

type isvcSpec struct {
	Predictor struct {
		Model *isvcModel `json:"model,omitempty"`
	} `json:"predictor"`
}

type isvcModel struct {
	ModelFormat struct {
		Name string `json:"name"`
	} `json:"modelFormat"`
	Runtime    *string                     `json:"runtime,omitempty"`
	StorageURI *string                     `json:"storageUri,omitempty"`
	Resources  corev1.ResourceRequirements `json:"resources,omitempty"`
	Args       []string                    `json:"args,omitempty"`
}

type isvcStatus struct {
	Conditions []condition `json:"conditions,omitempty"`
	URL        string      `json:"url,omitempty"`
}

// condition follows the Knative condition schema.
type condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *isvcStatus) ready() bool {
	c := s.readyCondition()
	return c != nil && c.Status == "True"
}

func (s *isvcStatus) readyCondition() *condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == "Ready" {
			return &s.Conditions[i]
		}
	}
	return nil
}

// buildInferenceService renders the InferenceService serving a judge model
// with vLLM, which exposes an OpenAI compatible API under /v1.
func buildInferenceService(spec Spec, namespace string) *inferenceService {
	storageURI := spec.ModelURI
	isvc := &inferenceService{
		TypeMeta: metav1.TypeMeta{APIVersion: apiVersion, Kind: kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      deploymentName(spec.TargetID),
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": managedBy,
				"app.kubernetes.io/component":  "judge",
				targetLabel:                    sanitizeName(spec.TargetID),
			},
		},
	}

	model := &isvcModel{StorageURI: &storageURI, Args: spec.RuntimeArgs}
	model.ModelFormat.Name = "vLLM"
	if spec.Runtime != "" {
		rt := spec.Runtime
		model.Runtime = &rt
	}
	if spec.GPUCount > 0 {
		gpus := resource.MustParse(strconv.Itoa(spec.GPUCount))
		model.Resources = corev1.ResourceRequirements{
			Requests: corev1.ResourceList{"nvidia.com/gpu": gpus},
			Limits:   corev1.ResourceList{"nvidia.com/gpu": gpus},
		}
	}
	isvc.Spec.Predictor.Model = model
	return isvc
}

func toUnstructured(isvc *inferenceService) (*unstructured.Unstructured, error) {
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(isvc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert InferenceService to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: obj}, nil
}

func fromUnstructured(obj *unstructured.Unstructured) (*inferenceService, error) {
	isvc := &inferenceService{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, isvc); err != nil {
		return nil, fmt.Errorf("failed to convert unstructured to InferenceService: %w", err)
	}
	return isvc, nil
}

// deploymentName is the InferenceService name of a target's judge.
func deploymentName(targetID string) string {
	return sanitizeName("judge-" + targetID)
}

// sanitizeName maps s to a valid DNS-1123 label.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteRune(c)
		case c == '_', c == '.', c == '/', c == '@', c == ' ':
			b.WriteByte('-')
		}
	}
	name := b.String()
	if name != "" && (name[0] < 'a' || name[0] > 'z') {
		name = "j-" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.TrimRight(name, "-")
}

func serviceURL(isvc *inferenceService, namespace string) string {
	if isvc.Status.URL != "" {
		return strings.TrimRight(isvc.Status.URL, "/") + "/v1"
	}
	return fmt.Sprintf("http://%s.%s.svc.cluster.local/v1", isvc.Name, namespace)
}
