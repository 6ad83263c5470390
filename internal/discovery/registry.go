package discovery

// Registry is a read-only snapshot of the machine registry for one
// scheduling or discovery cycle. Lookups are exact, case-sensitive matches
// on MachineName.
type Registry struct {
	machines []MachineRecord
	byName   map[string]int
}

// NewRegistry indexes machines by name. When the registry reports the same
// name twice the first record wins.
func NewRegistry(machines []MachineRecord) *Registry {
	byName := make(map[string]int, len(machines))
	for i, m := range machines {
		if _, seen := byName[m.MachineName]; seen {
			continue
		}
		byName[m.MachineName] = i
	}

	return &Registry{machines: machines, byName: byName}
}

// Resolve returns the record for machineName, matching exactly.
func (r *Registry) Resolve(machineName string) (MachineRecord, bool) {
	i, ok := r.byName[machineName]
	if !ok {
		return MachineRecord{}, false
	}
	return r.machines[i], true
}

// Machines returns the snapshot's records in query order.
func (r *Registry) Machines() []MachineRecord {
	return r.machines
}

// Len reports how many machines the snapshot holds.
func (r *Registry) Len() int {
	return len(r.machines)
}
