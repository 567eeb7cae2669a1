package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Shm is one anonymous shared-memory region, created with memfd_create so
// the fd can be handed to the display server while we keep it mapped.
type Shm struct {
	fd   int
	data []byte
}

// NewShm allocates and maps a region of the given size.
func NewShm(size int) (*Shm, error) {
	fd, err := unix.MemfdCreate("rwaybar-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate shm to %d: %w", size, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}
	// Sealing shrinks out from under the server's map would be a protocol
	// violation; forbid them.
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK)
	return &Shm{fd: fd, data: data}, nil
}

// Fd returns the file descriptor to pass to the display server.
func (s *Shm) Fd() int { return s.fd }

// Bytes returns the mapped region.
func (s *Shm) Bytes() []byte { return s.data }

// Close unmaps and closes the region.
func (s *Shm) Close() error {
	var first error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			first = err
		}
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil && first == nil {
			first = err
		}
		s.fd = -1
	}
	return first
}
