package suites

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerCommand(t *testing.T) {
	r := &Runner{
		Dir: "/src/mesh",
		Env: map[string]string{"KUBECONFIG": "/tmp/kc", "MESHTEST_RUN_ID": "abc"},
	}

	cmd := r.command(Suite{
		Name:    "inject",
		Path:    "./test/integration/inject",
		Timeout: 10 * time.Minute,
		Flags:   []string{"-run", "TestInject"},
		Env:     map[string]string{"MESHTEST_NAMESPACE": "inject-test"},
	})

	require.Equal(t, "go", cmd.Name)
	require.Equal(t, []string{
		"test", "-count=1", "-timeout", "10m0s",
		"-run", "TestInject",
		"./test/integration/inject",
	}, cmd.Args)
	require.Equal(t, "/src/mesh", cmd.Dir)
	require.Equal(t, "/tmp/kc", cmd.Env["KUBECONFIG"])
	require.Equal(t, "abc", cmd.Env["MESHTEST_RUN_ID"])
	require.Equal(t, "inject-test", cmd.Env["MESHTEST_NAMESPACE"])
	require.Equal(t, "inject", cmd.Env["MESHTEST_SUITE"])
}

func TestRunnerCommandDefaults(t *testing.T) {
	r := &Runner{}
	cmd := r.command(Suite{Name: "install", Path: "./test/integration/install"})

	require.Equal(t, "go", cmd.Name)
	require.Contains(t, cmd.Args, DefaultTimeout.String())
}

func TestRunGroupStopsOnFirstFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	ctx := context.Background()

	// "false" ignores the go test arguments and just exits 1, which is all
	// the sequencing logic cares about
	r := &Runner{GoBinary: "false"}
	err := r.RunGroup(ctx, Group{Name: "default", Suites: []Suite{
		{Name: "one", Path: "./one"},
		{Name: "two", Path: "./two"},
	}})

	var serr *SuiteError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "one", serr.Suite)
	require.Equal(t, 1, serr.Code)
}

func TestRunGroupKeepGoingAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	ctx := context.Background()

	r := &Runner{GoBinary: "false", KeepGoing: true}
	err := r.RunGroup(ctx, Group{Name: "default", Suites: []Suite{
		{Name: "one", Path: "./one"},
		{Name: "two", Path: "./two"},
	}})

	require.Error(t, err)
	require.ErrorContains(t, err, `suite "one"`)
	require.ErrorContains(t, err, `suite "two"`)
}

func TestRunGroupPasses(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	ctx := context.Background()

	r := &Runner{GoBinary: "true"}
	require.NoError(t, r.RunGroup(ctx, Group{Name: "default", Suites: []Suite{
		{Name: "one", Path: "./one"},
	}}))
}
