package suites

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPlanGroupsAndOrders(t *testing.T) {
	ctx := context.Background()

	plan, err := BuildPlan(ctx, []Suite{
		{Name: "install", Path: "./test/integration/install"},
		{Name: "inject", Path: "./test/integration/inject"},
		{Name: "multicluster", Path: "./test/integration/multicluster", Group: "multicluster"},
	}, nil, nil)
	require.NoError(t, err)

	require.Len(t, plan.Groups, 2)
	// groups come out sorted by name, suites keep config order
	require.Equal(t, "default", plan.Groups[0].Name)
	require.Equal(t, []string{"install", "inject"}, []string{plan.Groups[0].Suites[0].Name, plan.Groups[0].Suites[1].Name})
	require.Equal(t, "multicluster", plan.Groups[1].Name)
	require.Equal(t, []string{"install", "inject", "multicluster"}, plan.Names())
}

func TestBuildPlanFilters(t *testing.T) {
	ctx := context.Background()

	plan, err := BuildPlan(ctx, []Suite{
		{Name: "install", Path: "./test/integration/install", Labels: map[string]string{"size": "small"}},
		{Name: "upgrade", Path: "./test/integration/upgrade", Labels: map[string]string{"size": "large"}},
	}, map[string]string{"size": "small"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"install"}, plan.Names())
}

func TestBuildPlanRejectsBadSuites(t *testing.T) {
	ctx := context.Background()

	_, err := BuildPlan(ctx, []Suite{{Name: "", Path: "./x"}}, nil, nil)
	require.ErrorContains(t, err, "no name")

	_, err = BuildPlan(ctx, []Suite{{Name: "a", Path: ""}}, nil, nil)
	require.ErrorContains(t, err, "package path")

	_, err = BuildPlan(ctx, []Suite{
		{Name: "a", Path: "./x"},
		{Name: "a", Path: "./y"},
	}, nil, nil)
	require.ErrorContains(t, err, "duplicate")
}

func TestBuildPlanEmptyAfterFilter(t *testing.T) {
	ctx := context.Background()

	_, err := BuildPlan(ctx, []Suite{
		{Name: "a", Path: "./x", Labels: map[string]string{"flaky": "true"}},
	}, nil, map[string]string{"flaky": "true"})
	require.ErrorContains(t, err, "no suites to run")
}
