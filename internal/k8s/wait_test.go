package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

func deployment(ns, name string, want, available int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(want)},
		Status: appsv1.DeploymentStatus{
			AvailableReplicas: available,
			UpdatedReplicas:   available,
		},
	}
}

func pod(ns, name string, ready bool, restarts int32) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: ns,
			Name:      name,
			Labels:    map[string]string{"app": "controller"},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "main", RestartCount: restarts},
			},
		},
	}
}

func TestWaitDeploymentAvailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kcli := fake.NewClientset(deployment("linkerd", "linkerd-destination", 2, 2))
	require.NoError(t, WaitDeploymentAvailable(ctx, kcli, "linkerd", "linkerd-destination"))
}

func TestWaitDeploymentAvailableTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	kcli := fake.NewClientset(deployment("linkerd", "linkerd-destination", 2, 1))
	err := WaitDeploymentAvailable(ctx, kcli, "linkerd", "linkerd-destination")
	require.ErrorContains(t, err, "did not become available")
}

func TestCheckPodsReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kcli := fake.NewClientset(
		pod("linkerd", "controller-1", true, 0),
		pod("linkerd", "controller-2", true, 0),
	)
	require.NoError(t, CheckPodsReady(ctx, kcli, "linkerd", "app=controller", 2))
}

func TestCheckPodsReadyFailsOnRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kcli := fake.NewClientset(pod("linkerd", "controller-1", true, 3))

	err := CheckPodsReady(ctx, kcli, "linkerd", "app=controller", 1)
	var rce *RestartCountError
	require.ErrorAs(t, err, &rce)
	require.Equal(t, "controller-1", rce.Pod)
	require.Equal(t, int32(3), rce.Count)
}

func TestCheckPodsReadyTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	kcli := fake.NewClientset(pod("linkerd", "controller-1", false, 0))
	err := CheckPodsReady(ctx, kcli, "linkerd", "app=controller", 1)
	require.ErrorContains(t, err, "did not become ready")
}

func TestEnsureNamespace(t *testing.T) {
	ctx := context.Background()
	kcli := fake.NewClientset()

	require.NoError(t, EnsureNamespace(ctx, kcli, "smoke-test"))
	// creating again is fine
	require.NoError(t, EnsureNamespace(ctx, kcli, "smoke-test"))

	_, err := kcli.CoreV1().Namespaces().Get(ctx, "smoke-test", metav1.GetOptions{})
	require.NoError(t, err)
}
