package suites

import "strings"

// Skip evaluates a suite's labels against a set of labels that must be
// present for the suite to run and a set that disqualifies it. If both are
// provided, exclusion is evaluated last. This allows defining buckets of
// suites to run which exclude undesirable subsets, e.g.:
//
//	Include: size=small
//	Exclude: flaky=true
//
// runs all of the 'small' suites while skipping any marked flaky.
func Skip(labels, include, exclude map[string]string) (bool, string) {
	switch {
	// can't skip without inclusion or exclusion rules
	case len(include) == 0 && len(exclude) == 0:
		return false, ""
	case len(include) != 0:
		reason := ""
		for k, v := range include {
			if labels[k] != v {
				reason += k + "=" + v + " "
			}
		}
		if reason == "" {
			return excluded(labels, exclude)
		}
		return true, "skipped due to missing required labels: " + strings.TrimSpace(reason)
	case len(exclude) != 0:
		return excluded(labels, exclude)
	default:
		return false, ""
	}
}

func excluded(labels, exclude map[string]string) (bool, string) {
	reason := ""
	for k, v := range exclude {
		if labels[k] == v {
			reason += k + "=" + v + " "
		}
	}
	if reason == "" {
		return false, ""
	}
	return true, "skipped due to presence of excluded labels: " + strings.TrimSpace(reason)
}
