package k8s

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/chainguard-dev/meshtest/internal/log"
)

// DumpDiagnostics logs recent events and pod log tails for a namespace.
// Called on the failure path so CI output explains itself without anyone
// having to keep the cluster around.
func DumpDiagnostics(ctx context.Context, kcli kubernetes.Interface, ns string) {
	dumpEvents(ctx, kcli, ns)
	dumpPodLogs(ctx, kcli, ns)
}

func dumpEvents(ctx context.Context, kcli kubernetes.Interface, ns string) {
	events, err := kcli.CoreV1().Events(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Warn(ctx, "failed to list events", "namespace", ns, "error", err)
		return
	}

	for _, ev := range events.Items {
		if ev.Type == corev1.EventTypeNormal {
			continue
		}
		log.Info(ctx, "event",
			"namespace", ns,
			"object", ev.InvolvedObject.Kind+"/"+ev.InvolvedObject.Name,
			"reason", ev.Reason,
			"message", ev.Message,
		)
	}
}

func dumpPodLogs(ctx context.Context, kcli kubernetes.Interface, ns string) {
	pods, err := kcli.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Warn(ctx, "failed to list pods", "namespace", ns, "error", err)
		return
	}

	for _, pod := range pods.Items {
		for _, c := range pod.Spec.Containers {
			req := kcli.CoreV1().Pods(ns).GetLogs(pod.Name, &corev1.PodLogOptions{
				Container: c.Name,
				TailLines: ptr.To(int64(50)),
			})
			rc, err := req.Stream(ctx)
			if err != nil {
				log.Warn(ctx, "failed to stream logs", "pod", pod.Name, "container", c.Name, "error", err)
				continue
			}
			b, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				continue
			}
			log.Info(ctx, "pod logs", "pod", pod.Name, "container", c.Name, "tail", string(b))
		}
	}
}
