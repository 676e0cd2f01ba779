//go:build linux

package privsep

import "syscall"

func applyUmask(mask int) {
	syscall.Umask(mask)
}

func setgid(gid int) error {
	return syscall.Setgid(gid)
}

func setuid(uid int) error {
	return syscall.Setuid(uid)
}
