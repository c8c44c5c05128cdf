// Package shard implements shard planning: deciding how many output files a
// closed window is split into and which shard each record lands in.
package shard

import (
	"runtime"

	"github.com/cespare/xxhash/v2"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Planner splits a closed window's records into disjoint shards.
//
// Assignment is by stable hash of the record key modulo the shard count, so
// the same key always lands in the same shard for a given count. Re-planning
// the same window after a crash therefore reproduces the same shards, which
// the deterministic output naming relies on.
type Planner struct {
	maxShards        int
	targetPerShard   int
	emitEmptyWindows bool
}

// Config configures shard planning.
type Config struct {
	// MaxShards caps the shard count. Zero or negative means the cap is
	// derived from available parallelism (GOMAXPROCS).
	MaxShards int

	// TargetRecordsPerShard sizes shards before the cap applies.
	TargetRecordsPerShard int

	// EmitEmptyWindows emits a single zero-record shard for an empty
	// window instead of skipping it.
	EmitEmptyWindows bool
}

// NewPlanner creates a shard planner.
func NewPlanner(cfg Config) *Planner {
	target := cfg.TargetRecordsPerShard
	if target <= 0 {
		target = 10000
	}
	return &Planner{
		maxShards:        cfg.MaxShards,
		targetPerShard:   target,
		emitEmptyWindows: cfg.EmitEmptyWindows,
	}
}

// Plan partitions records into shards for the given window. The returned
// slice is empty for an empty window unless empty emission is enabled, in
// which case it holds exactly one zero-record shard. The shard count is
// fixed by this call and never changes afterwards.
func (p *Planner) Plan(id record.WindowID, records []record.Record) []record.Shard {
	if len(records) == 0 {
		if !p.emitEmptyWindows {
			return nil
		}
		return []record.Shard{{Window: id, Index: 0, Count: 1}}
	}

	count := p.shardCount(len(records))
	shards := make([]record.Shard, count)
	for i := range shards {
		shards[i] = record.Shard{Window: id, Index: i, Count: count}
	}

	for _, r := range records {
		i := int(xxhash.Sum64(r.Key) % uint64(count))
		shards[i].Records = append(shards[i].Records, r)
	}
	return shards
}

// shardCount returns min(cap, ceil(n / target)), minimum 1.
func (p *Planner) shardCount(n int) int {
	count := (n + p.targetPerShard - 1) / p.targetPerShard
	if count < 1 {
		count = 1
	}
	limit := p.maxShards
	if limit <= 0 {
		// Unset cap: let the runtime's parallelism bound the fan-out.
		limit = runtime.GOMAXPROCS(0)
	}
	if count > limit {
		count = limit
	}
	return count
}
