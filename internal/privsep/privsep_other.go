//go:build !linux

package privsep

import "fmt"

func applyUmask(mask int) {}

func setgid(gid int) error {
	return fmt.Errorf("privilege dropping is not supported on this platform")
}

func setuid(uid int) error {
	return fmt.Errorf("privilege dropping is not supported on this platform")
}
