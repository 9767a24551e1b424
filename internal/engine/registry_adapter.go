package engine

import (
	"context"

	"github.com/EffortlessMetrics/shipper/internal/registry"
)

// RegistryAdapter adapts *registry.Client to the engine's narrow
// RegistryProbe capability.
type RegistryAdapter struct {
	Client *registry.Client
}

func (a RegistryAdapter) VersionExists(ctx context.Context, name, version string) (ProbeStatus, error) {
	result, err := a.Client.VersionExists(ctx, name, version)
	if err != nil {
		return ProbeTransient, err
	}
	return convertStatus(result.Status), nil
}

func (a RegistryAdapter) IndexLookup(ctx context.Context, name, version string) (ProbeStatus, error) {
	result, err := a.Client.IndexLookup(ctx, name, version)
	if err != nil {
		return ProbeTransient, err
	}
	return convertStatus(result.Status), nil
}

func convertStatus(s registry.Status) ProbeStatus {
	switch s {
	case registry.Found:
		return ProbeFound
	case registry.NotFound:
		return ProbeNotFound
	case registry.Permanent:
		return ProbePermanent
	default:
		return ProbeTransient
	}
}
