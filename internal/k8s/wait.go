package k8s

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/chainguard-dev/meshtest/internal/log"
)

const pollInterval = 2 * time.Second

// RestartCountError reports a pod that restarted while we were waiting for
// it. A control-plane pod that crash-loops into readiness is a failure, not
// something to wait out.
type RestartCountError struct {
	Pod       string
	Container string
	Count     int32
}

func (e *RestartCountError) Error() string {
	return fmt.Sprintf("container %q in pod %q restarted %d time(s)", e.Container, e.Pod, e.Count)
}

// WaitDeploymentAvailable blocks until the deployment reports all desired
// replicas available, or ctx expires.
func WaitDeploymentAvailable(ctx context.Context, kcli kubernetes.Interface, ns, name string) error {
	log.Debug(ctx, "waiting for deployment", "namespace", ns, "deployment", name)

	err := wait.PollUntilContextCancel(ctx, pollInterval, true, func(ctx context.Context) (bool, error) {
		d, err := kcli.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return deploymentAvailable(d), nil
	})
	if err != nil {
		return fmt.Errorf("deployment %s/%s did not become available: %w", ns, name, err)
	}
	return nil
}

func deploymentAvailable(d *appsv1.Deployment) bool {
	want := int32(1)
	if d.Spec.Replicas != nil {
		want = *d.Spec.Replicas
	}
	return d.Status.AvailableReplicas >= want && d.Status.UpdatedReplicas >= want
}

// CheckPodsReady blocks until at least want pods matching the selector are
// running and ready. A restart observed on any matching pod fails the check
// immediately with a RestartCountError.
func CheckPodsReady(ctx context.Context, kcli kubernetes.Interface, ns, selector string, want int) error {
	log.Debug(ctx, "waiting for pods", "namespace", ns, "selector", selector, "want", want)

	err := wait.PollUntilContextCancel(ctx, pollInterval, true, func(ctx context.Context) (bool, error) {
		pods, err := kcli.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return false, err
		}

		ready := 0
		for _, pod := range pods.Items {
			for _, cs := range pod.Status.ContainerStatuses {
				if cs.RestartCount > 0 {
					return false, &RestartCountError{
						Pod:       pod.Name,
						Container: cs.Name,
						Count:     cs.RestartCount,
					}
				}
			}
			if podReady(&pod) {
				ready++
			}
		}
		return ready >= want, nil
	})
	if err != nil {
		return fmt.Errorf("pods %q in %s did not become ready: %w", selector, ns, err)
	}
	return nil
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
