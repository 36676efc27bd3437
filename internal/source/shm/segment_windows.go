//go:build windows

package shm

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

type viewRegion struct {
	handle windows.Handle
	addr   uintptr
	data   []byte
}

func openSegment(name string) (Region, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.OpenFileMapping(windows.FILE_MAP_READ, false, namePtr)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, 0)
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	var info windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(h)
		return nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(info.RegionSize))
	return &viewRegion{handle: h, addr: addr, data: data}, nil
}

func (r *viewRegion) Bytes() []byte { return r.data }

func (r *viewRegion) Close() error {
	if r.addr == 0 {
		return nil
	}
	errUnmap := windows.UnmapViewOfFile(r.addr)
	errClose := windows.CloseHandle(r.handle)
	r.addr, r.handle, r.data = 0, 0, nil
	return errors.Join(errUnmap, errClose)
}
