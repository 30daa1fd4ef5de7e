package suites

import (
	"context"
	"fmt"
	"sort"

	"github.com/chainguard-dev/meshtest/internal/log"
)

// Plan is the set of suite groups a run will execute. Groups are
// independent: each gets its own cluster, so they may run concurrently.
// Within a group, order is the configuration order — later suites are
// allowed to depend on the effects of earlier ones, the same way the mesh's
// own install suite seeds the cluster for everything after it.
type Plan struct {
	Groups []Group
}

// Group is an ordered list of suites sharing one cluster.
type Group struct {
	Name   string
	Suites []Suite
}

// BuildPlan validates, filters, and groups the configured suites. Skipped
// suites are logged with the reason rather than silently dropped.
func BuildPlan(ctx context.Context, all []Suite, include, exclude map[string]string) (Plan, error) {
	seen := make(map[string]bool, len(all))
	byGroup := make(map[string][]Suite)

	for _, s := range all {
		if err := s.Validate(); err != nil {
			return Plan{}, err
		}
		if seen[s.Name] {
			return Plan{}, fmt.Errorf("duplicate suite name %q", s.Name)
		}
		seen[s.Name] = true

		if skip, reason := Skip(s.Labels, include, exclude); skip {
			log.Info(ctx, "skipping suite", "suite", s.Name, "reason", reason)
			continue
		}
		byGroup[s.group()] = append(byGroup[s.group()], s)
	}

	if len(byGroup) == 0 {
		return Plan{}, fmt.Errorf("no suites to run after filtering")
	}

	names := make([]string, 0, len(byGroup))
	for name := range byGroup {
		names = append(names, name)
	}
	sort.Strings(names)

	p := Plan{}
	for _, name := range names {
		p.Groups = append(p.Groups, Group{Name: name, Suites: byGroup[name]})
	}
	return p, nil
}

// Names lists every planned suite, for run summaries.
func (p Plan) Names() []string {
	var names []string
	for _, g := range p.Groups {
		for _, s := range g.Suites {
			names = append(names, s.Name)
		}
	}
	return names
}
