//go:build !linux

package shm

// Non-Linux builds fall back to process-private memory. The region is
// not visible to other processes; it keeps heap bookkeeping and tests
// working on development machines.

// CanCreateOnDevShm always succeeds off Linux.
func CanCreateOnDevShm(size uint64, path string) bool {
	return true
}

// MapRegion allocates a process-private region.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	return &MappedRegion{
		Addr: make([]byte, opts.Size),
		Fd:   -1,
		Path: opts.Name,
	}, nil
}

// UnmapRegion drops the region.
func UnmapRegion(region *MappedRegion, unlink bool) error {
	if region != nil {
		region.Addr = nil
	}
	return nil
}
