package vm

import (
	"sync"
	"sync/atomic"
)

// Profiler counts executed opcodes and how often each script runs code.
// Counters are atomic so a monitor can read them while a worker ticks
// the session.

// ScriptKey identifies a script for profiling.
type ScriptKey struct {
	Origin Origin
	ID     uint16
}

// ScriptProfile holds profiling data for a single script.
type ScriptProfile struct {
	Instructions uint64 // Atomic counter for executed instructions
	IsHot        bool   // True if threshold exceeded
}

// OpcodeCount is one row of an opcode histogram.
type OpcodeCount struct {
	Opcode byte
	Name   string
	Count  uint64
}

// Profiler manages profiling for one or more sessions.
type Profiler struct {
	opcodes [256]uint64
	names   [256]atomic.Value

	scripts sync.Map // ScriptKey -> *ScriptProfile

	// HotThreshold is the instruction count after which a script is
	// reported hot. Default: 10000.
	HotThreshold uint64

	// OnHot is called once per script when it becomes hot.
	OnHot func(key ScriptKey, profile *ScriptProfile)

	hotCount uint64
}

// NewProfiler creates a new profiler with default thresholds.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 10000}
}

// Record counts one executed instruction. Returns true if this
// instruction made the script hot.
func (p *Profiler) Record(b byte, name string, origin Origin, id uint16) bool {
	if atomic.AddUint64(&p.opcodes[b], 1) == 1 {
		p.names[b].Store(name)
	}

	key := ScriptKey{Origin: origin, ID: id}
	val, _ := p.scripts.LoadOrStore(key, &ScriptProfile{})
	profile := val.(*ScriptProfile)

	count := atomic.AddUint64(&profile.Instructions, 1)
	if !profile.IsHot && p.HotThreshold > 0 && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(key, profile)
		}
		return true
	}
	return false
}

// Opcode returns how often opcode b was executed.
func (p *Profiler) Opcode(b byte) uint64 { return atomic.LoadUint64(&p.opcodes[b]) }

// Script returns the profile of a script, or nil if it never ran.
func (p *Profiler) Script(origin Origin, id uint16) *ScriptProfile {
	if val, ok := p.scripts.Load(ScriptKey{Origin: origin, ID: id}); ok {
		return val.(*ScriptProfile)
	}
	return nil
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Instructions uint64 // Total executed instructions
	Scripts      int    // Number of scripts that ran
	HotScripts   int    // Number of hot scripts
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for i := range p.opcodes {
		stats.Instructions += atomic.LoadUint64(&p.opcodes[i])
	}
	p.scripts.Range(func(_, value any) bool {
		stats.Scripts++
		if value.(*ScriptProfile).IsHot {
			stats.HotScripts++
		}
		return true
	})
	return stats
}

// TopOpcodes returns the n most frequently executed opcodes.
func (p *Profiler) TopOpcodes(n int) []OpcodeCount {
	var all []OpcodeCount
	for i := range p.opcodes {
		c := atomic.LoadUint64(&p.opcodes[i])
		if c == 0 {
			continue
		}
		name, _ := p.names[i].Load().(string)
		all = append(all, OpcodeCount{Opcode: byte(i), Name: name, Count: c})
	}

	// Selection sort for top N (fine for small N)
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].Count > all[maxIdx].Count {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// HotScripts returns every script that exceeded the hot threshold.
func (p *Profiler) HotScripts() []ScriptKey {
	var hot []ScriptKey
	p.scripts.Range(func(key, value any) bool {
		if value.(*ScriptProfile).IsHot {
			hot = append(hot, key.(ScriptKey))
		}
		return true
	})
	return hot
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		atomic.StoreUint64(&p.opcodes[i], 0)
	}
	p.scripts = sync.Map{}
	atomic.StoreUint64(&p.hotCount, 0)
}
