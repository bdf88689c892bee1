package leader_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/k3s"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/Hrittik20/TSUSwap/internal/config"
	"github.com/Hrittik20/TSUSwap/internal/leader"
)

func startCluster(t *testing.T, ctx context.Context) kubernetes.Interface {
	t.Helper()
	ctr, err := k3s.Run(ctx, "rancher/k3s:v1.31.6-k3s1")
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting k3s container: %v", err)
	}
	kubeConfigYaml, err := ctr.GetKubeConfig(ctx)
	if err != nil {
		t.Fatalf("getting kubeconfig: %v", err)
	}
	restCfg, err := clientcmd.RESTConfigFromKubeConfig(kubeConfigYaml)
	if err != nil {
		t.Fatalf("building rest config: %v", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		t.Fatalf("creating kubernetes client: %v", err)
	}
	return clientset
}

// TestSingleton_K3s runs two replicas against one lease on a real cluster:
// the sweeper work never runs on both at once, and stopping the leader hands
// the work to the other replica. Skipped in short mode.
func TestSingleton_K3s(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping k3s integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	clientset := startCluster(t, ctx)
	origFactory := leader.ClientFactory
	leader.ClientFactory = func() (kubernetes.Interface, error) { return clientset, nil }
	t.Cleanup(func() { leader.ClientFactory = origFactory })

	base := config.LeaderElectionConfig{
		Enabled:        true,
		LeaseName:      "tsuswap-test-sweeper",
		LeaseNamespace: "default",
		LeaseDuration:  5 * time.Second,
		RenewDeadline:  3 * time.Second,
		RetryPeriod:    1 * time.Second,
	}

	var (
		running  atomic.Int32
		overlap  atomic.Bool
		mu       sync.Mutex
		leaders  []string
		replicas = map[string]context.CancelFunc{}
		done     = make(chan string, 2)
	)
	sweep := func(id string) func(context.Context) {
		return func(ctx context.Context) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			leaders = append(leaders, id)
			mu.Unlock()
			<-ctx.Done()
			running.Add(-1)
		}
	}

	for _, id := range []string{"replica-a", "replica-b"} {
		cfg := base
		cfg.Identity = id
		rctx, rcancel := context.WithCancel(ctx)
		replicas[id] = rcancel
		go func() {
			if err := leader.Singleton(rctx, cfg, slog.Default(), sweep(id)); err != nil {
				t.Errorf("%s: Singleton() error = %v", id, err)
			}
			done <- id
		}()
	}

	waitFor := func(n int) string {
		t.Helper()
		deadline := time.After(45 * time.Second)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			mu.Lock()
			if len(leaders) >= n {
				id := leaders[n-1]
				mu.Unlock()
				return id
			}
			mu.Unlock()
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for leader #%d", n)
			case <-ticker.C:
			}
		}
	}

	first := waitFor(1)
	t.Logf("first leader: %s", first)

	// Stopping the leader releases the lease; the other replica takes over.
	replicas[first]()
	second := waitFor(2)
	if second == first {
		t.Fatalf("leadership went back to %s after it stopped", first)
	}

	for _, c := range replicas {
		c()
	}
	for range 2 {
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Fatal("timed out waiting for Singleton to return")
		}
	}

	if overlap.Load() {
		t.Error("sweeper work ran on two replicas at once")
	}
}
