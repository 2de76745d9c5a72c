//go:build unix

package dbus

import "golang.org/x/sys/unix"

func uid() int {
	return unix.Getuid()
}
