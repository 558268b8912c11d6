// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"fmt"
)

// Collect runs a full mark and sweep collection. Objects which are not
// reachable from the registered root markers or the pinned refs are freed.
// Interned strings are weak and are removed from the intern table once they
// are unreachable.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	objects := len(h.slots) - 1 - len(h.free)
	if h.opts.Trace != nil {
		_, _ = fmt.Fprintf(h.opts.Trace, "-- gc begin\n")
	}

	h.markRoots()
	h.traceReferences()
	h.removeWhiteStrings()
	freed := h.sweep()

	h.nextGC = h.bytesAllocated * h.opts.GrowthFactor
	if h.nextGC < h.opts.InitialThreshold {
		h.nextGC = h.opts.InitialThreshold
	}
	h.stats.Collections++
	h.stats.Freed += freed

	if h.opts.Trace != nil {
		_, _ = fmt.Fprintf(h.opts.Trace,
			"-- gc end\n   collected %d bytes (from %d to %d) next at %d\n",
			before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
	h.log.Debugf("collection #%d: freed %d of %d objects, %d -> %d bytes, next at %d",
		h.stats.Collections, freed, objects, before, h.bytesAllocated, h.nextGC)
}

func (h *Heap) markRoots() {
	for _, m := range h.roots {
		m.MarkRoots(h)
	}
	for ref := range h.pinned {
		h.markRef(ref)
	}
}

// MarkValue marks v as reachable. It is used by RootMarker implementations.
func (h *Heap) MarkValue(v Value) { h.markValue(v) }

// MarkRef marks ref as reachable. It is used by RootMarker implementations.
func (h *Heap) MarkRef(ref Ref) { h.markRef(ref) }

func (h *Heap) markValue(v Value) {
	if v.kind == KindObject {
		h.markRef(v.ref)
	}
}

func (h *Heap) markRef(ref Ref) {
	if ref == NoRef || int(ref) >= len(h.slots) {
		return
	}
	s := &h.slots[ref]
	if s.obj == nil || s.marked {
		return
	}
	s.marked = true
	h.gray = append(h.gray, ref)
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		ref := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.slots[ref].obj.traceRefs(h)
	}
}

func (h *Heap) removeWhiteStrings() {
	for s, ref := range h.strings {
		if !h.slots[ref].marked {
			delete(h.strings, s)
		}
	}
}

func (h *Heap) sweep() int {
	var freed int
	for i := 1; i < len(h.slots); i++ {
		s := &h.slots[i]
		if s.obj == nil {
			continue
		}
		if s.marked {
			s.marked = false
			continue
		}
		h.bytesAllocated -= s.size
		*s = heapSlot{}
		h.free = append(h.free, Ref(i))
		freed++
	}
	return freed
}
