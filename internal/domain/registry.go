package domain

import "sort"

// Registry is the in-memory world state: every heat and operation the
// simulator knows about, with the indexes the tick loop needs.
//
// The registry is the single source of truth for runtime decisions; the
// persistence collaborator only receives write-intents and is never read
// back. All mutation happens on the single tick goroutine.
type Registry struct {
	heats map[int64]*Heat
	byID  map[string]*Operation

	// activeByDevice tracks the ACTIVE operation occupying each device.
	activeByDevice map[string]*Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		heats:          make(map[int64]*Heat),
		byID:           make(map[string]*Operation),
		activeByDevice: make(map[string]*Operation),
	}
}

// AddHeat registers a heat and all its operations.
func (r *Registry) AddHeat(h *Heat) {
	r.heats[h.No] = h
	for _, op := range h.Operations {
		r.byID[op.ID] = op
		if op.Status == StatusActive {
			r.activeByDevice[op.DeviceNo] = op
		}
	}
}

// Heat returns the heat with the given number, or nil.
func (r *Registry) Heat(no int64) *Heat {
	return r.heats[no]
}

// Operation returns the operation with the given id, or nil.
func (r *Registry) Operation(id string) *Operation {
	return r.byID[id]
}

// MarkActive records an activation, claiming the operation's device.
func (r *Registry) MarkActive(op *Operation) {
	r.activeByDevice[op.DeviceNo] = op
}

// MarkDone releases the operation's device if it holds it.
// Called on both completion and cancellation.
func (r *Registry) MarkDone(op *Operation) {
	if cur, ok := r.activeByDevice[op.DeviceNo]; ok && cur.ID == op.ID {
		delete(r.activeByDevice, op.DeviceNo)
	}
}

// DeviceFree reports whether no ACTIVE operation occupies the device.
func (r *Registry) DeviceFree(deviceNo string) bool {
	_, busy := r.activeByDevice[deviceNo]
	return !busy
}

// Predecessor returns the stage immediately before op within its heat,
// or nil for the first stage.
func (r *Registry) Predecessor(op *Operation) *Operation {
	h := r.heats[op.HeatNo]
	if h == nil {
		return nil
	}
	return h.OperationAt(op.StageIdx - 1)
}

// Successors returns the stages after op within its heat, in stage order.
func (r *Registry) Successors(op *Operation) []*Operation {
	h := r.heats[op.HeatNo]
	if h == nil {
		return nil
	}
	if op.StageIdx+1 >= len(h.Operations) {
		return nil
	}
	return h.Operations[op.StageIdx+1:]
}

// OperationsWithStatus returns all operations in the given status,
// ordered by (heat no, stage) for deterministic tick processing.
func (r *Registry) OperationsWithStatus(status Status) []*Operation {
	var ops []*Operation
	for _, h := range r.heats {
		for _, op := range h.Operations {
			if op.Status == status {
				ops = append(ops, op)
			}
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].HeatNo != ops[j].HeatNo {
			return ops[i].HeatNo < ops[j].HeatNo
		}
		return ops[i].StageIdx < ops[j].StageIdx
	})
	return ops
}

// Heats returns every registered heat ordered by heat number.
func (r *Registry) Heats() []*Heat {
	heats := make([]*Heat, 0, len(r.heats))
	for _, h := range r.heats {
		heats = append(heats, h)
	}
	sort.Slice(heats, func(i, j int) bool { return heats[i].No < heats[j].No })
	return heats
}

// Len returns the number of registered heats.
func (r *Registry) Len() int {
	return len(r.heats)
}
