package executor

import "github.com/qaops/testoor/pkg/store"

// EffectiveConfig computes the config map handed to the driver as the
// ordered merge, later sources winning:
//
//	{envCode} <- constants.shared <- constants.environments[env]
//	          <- overrides.shared <- overrides.environments[env]
//	          <- runOverrides
//
// Matching keys are replaced at the top level; there is no deep merge.
func EffectiveConfig(
	envCode string,
	constants store.ConfigSet,
	overrides *store.ConfigSet,
	runOverrides map[string]any,
) map[string]any {
	merged := map[string]any{"envCode": envCode}

	apply := func(src map[string]any) {
		for k, v := range src {
			merged[k] = v
		}
	}

	apply(constants.Shared)
	apply(constants.Environments[envCode])

	if overrides != nil {
		apply(overrides.Shared)
		apply(overrides.Environments[envCode])
	}

	apply(runOverrides)

	return merged
}
