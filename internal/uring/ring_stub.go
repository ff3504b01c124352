//go:build !linux

package uring

import "fmt"

// newGiouringRing is only available on linux, where io_uring exists.
func newGiouringRing(config Config) (Ring, error) {
	return nil, fmt.Errorf("uring: io_uring is linux-only")
}
