//go:build linux

package shm

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

const devShmDir = "/dev/shm"

// CanCreateOnDevShm reports whether /dev/shm has room for a region of
// the given size. Paths outside /dev/shm are not space-checked.
func CanCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, devShmDir) {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

// MapRegion maps or creates a shared memory region under /dev/shm.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	shmPath := filepath.Join(devShmDir, opts.Name)
	flags := unix.O_RDWR
	if opts.Create {
		if !CanCreateOnDevShm(uint64(opts.Size), shmPath) {
			return nil, fmt.Errorf("no space left on %s for %d bytes", devShmDir, opts.Size)
		}
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", shmPath, err)
	}
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	} else {
		// mapping past the backing file raises SIGBUS on first access
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("fstat: %w", err)
		}
		if st.Size < int64(opts.Size) {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("region %s is %d bytes, need %d", shmPath, st.Size, opts.Size)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr: addr,
		Fd:   fd,
		Path: shmPath,
	}, nil
}

// UnmapRegion unmaps and closes the region. When unlink is set the
// backing file is removed as well.
func UnmapRegion(region *MappedRegion, unlink bool) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if err := unix.Close(region.Fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if unlink {
		if err := unix.Unlink(region.Path); err != nil && err != unix.ENOENT {
			return fmt.Errorf("unlink %s: %w", region.Path, err)
		}
	}
	return nil
}
