// Package judgehost serves judge models in-cluster as KServe
// InferenceServices for the duration of a target's run.
package judgehost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

const (
	DefaultRuntime      = "kserve-vllm"
	DefaultReadyTimeout = 10 * time.Minute
)

// Spec describes the judge model to serve for one target.
type Spec struct {
	TargetID     string
	ModelURI     string
	Runtime      string
	GPUCount     int
	RuntimeArgs  []string
	ReadyTimeout time.Duration
}

// SpecForTarget derives the deployment of target's judge. ok is false when
// the judge has no model URI and is reached over the network instead.
func SpecForTarget(target testsuite.Target) (spec Spec, ok bool) {
	if target.Judge.ModelURI == "" {
		return Spec{}, false
	}
	gpus := target.Judge.GPUCount
	if gpus <= 0 {
		gpus = 1
	}
	return Spec{
		TargetID:     target.ID,
		ModelURI:     target.Judge.ModelURI,
		Runtime:      DefaultRuntime,
		GPUCount:     gpus,
		ReadyTimeout: DefaultReadyTimeout,
	}, true
}

// Deployment is the observed state of a judge InferenceService.
type Deployment struct {
	Name        string `json:"name"`
	TargetID    string `json:"target_id"`
	Ready       bool   `json:"ready"`
	EndpointURL string `json:"endpoint_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Host manages judge InferenceServices in one namespace.
type Host struct {
	client    dynamic.Interface
	namespace string
}

// NewHost creates a Host from a kubeconfig, or from the in-cluster service
// account when inCluster is set.
func NewHost(namespace, kubeconfig string, inCluster bool) (*Host, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
	} else {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			rules, &clientcmd.ConfigOverrides{},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return NewHostWithClient(client, namespace), nil
}

// NewHostWithClient creates a Host with an existing dynamic client.
func NewHostWithClient(client dynamic.Interface, namespace string) *Host {
	return &Host{client: client, namespace: namespace}
}

// CheckAvailable verifies that the InferenceService CRD is installed.
func (h *Host) CheckAvailable(ctx context.Context) error {
	_, err := h.client.Resource(isvcGVR).Namespace(h.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("KServe InferenceService CRD is not available in the cluster: %w", err)
	}
	return nil
}

// Deploy serves the judge described by spec and waits until it is ready.
// A judge left over from an earlier run is reused.
func (h *Host) Deploy(ctx context.Context, spec Spec) (*Deployment, error) {
	name := deploymentName(spec.TargetID)

	existing, err := h.Status(ctx, spec.TargetID)
	switch {
	case err == nil && existing.Ready:
		slog.Info("reusing judge InferenceService", "name", name, "endpoint", existing.EndpointURL)
		return existing, nil
	case err == nil:
		slog.Info("judge InferenceService exists, waiting for ready", "name", name)
	case apierrors.IsNotFound(err):
		obj, err := toUnstructured(buildInferenceService(spec, h.namespace))
		if err != nil {
			return nil, err
		}
		slog.Info("deploying judge InferenceService",
			"name", name,
			"model_uri", spec.ModelURI,
			"gpu_count", spec.GPUCount,
		)
		if _, err := h.client.Resource(isvcGVR).Namespace(h.namespace).Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create InferenceService %s: %w", name, err)
		}
	default:
		return nil, err
	}

	isvc, err := h.waitForReady(ctx, name, spec.ReadyTimeout)
	if err != nil {
		return nil, fmt.Errorf("InferenceService %s not ready: %w", name, err)
	}
	d := h.deployment(isvc)
	return &d, nil
}

// Teardown deletes the judge of targetID. A missing judge is not an error.
func (h *Host) Teardown(ctx context.Context, targetID string) error {
	name := deploymentName(targetID)
	slog.Info("tearing down judge InferenceService", "name", name)

	grace := int64(30)
	propagation := metav1.DeletePropagationForeground
	err := h.client.Resource(isvcGVR).Namespace(h.namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
		PropagationPolicy:  &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete InferenceService %s: %w", name, err)
	}
	return nil
}

// Status returns the judge deployment of targetID. The error satisfies
// apierrors.IsNotFound when there is none.
func (h *Host) Status(ctx context.Context, targetID string) (*Deployment, error) {
	name := deploymentName(targetID)
	item, err := h.client.Resource(isvcGVR).Namespace(h.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get InferenceService %s: %w", name, err)
	}
	isvc, err := fromUnstructured(item)
	if err != nil {
		return nil, err
	}
	d := h.deployment(isvc)
	return &d, nil
}

func (h *Host) deployment(isvc *inferenceService) Deployment {
	d := Deployment{Name: isvc.Name, TargetID: isvc.Labels[targetLabel]}
	if isvc.Status.ready() {
		d.Ready = true
		d.EndpointURL = serviceURL(isvc, h.namespace)
	} else if c := isvc.Status.readyCondition(); c != nil && c.Message != "" {
		d.Message = c.Message
	} else {
		d.Message = "pending"
	}
	return d
}

func (h *Host) waitForReady(ctx context.Context, name string, timeout time.Duration) (*inferenceService, error) {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := h.client.Resource(isvcGVR).Namespace(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch InferenceService: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for InferenceService %s to become ready", name)
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return nil, fmt.Errorf("watch channel closed for InferenceService %s", name)
			}
			if event.Type != watch.Added && event.Type != watch.Modified {
				continue
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			isvc, err := fromUnstructured(obj)
			if err != nil {
				slog.Warn("failed to convert watch event", "error", err)
				continue
			}
			if isvc.Status.ready() {
				slog.Info("judge InferenceService ready", "name", name)
				return isvc, nil
			}
			if c := isvc.Status.readyCondition(); c != nil {
				slog.Debug("judge InferenceService not ready yet", "name", name, "reason", c.Reason, "message", c.Message)
			}
		}
	}
}
