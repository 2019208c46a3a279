// Package pool provides object pooling for the robot output layer, which
// assembles one map[string]any per hit on every search response and would
// otherwise churn the GC on high query-rate workloads (predictive warming,
// streaming mode).
package pool

import "sync"

// HitMapPool pools map[string]any scratch buffers used to assemble one
// robot-mode hit object before field selection and JSON marshaling.
var HitMapPool = sync.Pool{
	New: func() any {
		return make(map[string]any, 8)
	},
}

// GetHitMap returns a cleared map ready for one hit's fields.
func GetHitMap() map[string]any {
	m := HitMapPool.Get().(map[string]any)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutHitMap returns m to the pool.
func PutHitMap(m map[string]any) {
	HitMapPool.Put(m)
}
