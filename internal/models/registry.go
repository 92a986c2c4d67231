package models

// Registry is the single global record: counters plus the machine-ID index.
type Registry struct {
	Authority        Identity          `json:"authority"`
	MachineCount     uint64            `json:"machine_count"`
	TotalDataUploads uint64            `json:"total_data_uploads"`
	DataRequestCount uint64            `json:"data_request_count"`
	Machines         map[string]string `json:"machines"`
}

// Lookup resolves a machine ID to the identity of its MachineRecord.
func (r *Registry) Lookup(machineID string) (string, bool) {
	if r == nil || r.Machines == nil {
		return "", false
	}
	id, ok := r.Machines[machineID]
	return id, ok
}

// Clone deep-copies the registry, index included.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	out := *r
	out.Machines = make(map[string]string, len(r.Machines))
	for k, v := range r.Machines {
		out.Machines[k] = v
	}
	return &out
}
