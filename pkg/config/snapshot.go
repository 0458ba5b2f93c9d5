// Package config owns the lifecycle of the policy rule file: one-shot load,
// immutable snapshots, and atomic swap-on-reload driven by filesystem
// notifications. Evaluation itself lives in pkg/policy.
package config

import (
	"time"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
)

// Snapshot is the immutable representation of one loaded rule file. A failed
// reload never produces a Snapshot; the previous one stays active. In-flight
// evaluations keep whatever snapshot they started with.
type Snapshot struct {
	// Generation uniquely identifies this load, for logs and for callers
	// that need to notice a swap (e.g. to flush verdict caches).
	Generation string
	LoadedAt   time.Time
	Path       string
	Rules      domain.RuleSet
}
