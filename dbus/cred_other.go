//go:build !unix

package dbus

import "os"

func uid() int {
	return os.Getuid()
}
