// Package suites models the integration test suites a run executes, how
// they are filtered and grouped, and how each one is invoked as a go test
// subprocess.
package suites

import (
	"fmt"
	"time"
)

// Suite is one integration test package invocation.
type Suite struct {
	// Name identifies the suite in logs, errors, and the inventory.
	Name string `mapstructure:"name" json:"name"`

	// Path is the package path handed to go test, e.g. ./test/integration/install.
	Path string `mapstructure:"path" json:"path"`

	// Labels drive include/exclude filtering.
	Labels map[string]string `mapstructure:"labels" json:"labels,omitempty"`

	// Timeout bounds the suite. Zero means DefaultTimeout.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`

	// Flags are extra go test arguments (e.g. -run, custom suite flags).
	Flags []string `mapstructure:"flags" json:"flags,omitempty"`

	// Env is suite-specific environment, layered over the run environment.
	Env map[string]string `mapstructure:"env" json:"env,omitempty"`

	// Group names the cluster the suite shares. Suites in the same group
	// run sequentially on one cluster; distinct groups may run in
	// parallel on their own clusters. Empty means the default group.
	Group string `mapstructure:"group" json:"group,omitempty"`
}

const DefaultTimeout = 30 * time.Minute

// DefaultGroup is the group assigned to suites that don't name one.
const DefaultGroup = "default"

func (s Suite) group() string {
	if s.Group == "" {
		return DefaultGroup
	}
	return s.Group
}

func (s Suite) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// Validate rejects suites the runner can't execute.
func (s Suite) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("suite has no name")
	}
	if s.Path == "" {
		return fmt.Errorf("suite %q has no package path", s.Name)
	}
	return nil
}
