//go:build unix

package shm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ShmDir is where POSIX shared-memory objects live. Simulators running under
// Wine/Proton bridge their Windows mappings here.
var ShmDir = "/dev/shm"

type mmapRegion struct {
	data []byte
}

func openSegment(name string) (Region, error) {
	// Windows kernel object namespaces have no meaning here.
	name = strings.TrimPrefix(strings.TrimPrefix(name, `Local\`), `Global\`)

	f, err := os.Open(filepath.Join(ShmDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, ErrNotFound
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{data: data}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.data }

func (r *mmapRegion) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
