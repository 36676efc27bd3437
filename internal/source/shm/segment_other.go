//go:build !unix && !windows

package shm

import "errors"

func openSegment(string) (Region, error) {
	return nil, errors.ErrUnsupported
}
