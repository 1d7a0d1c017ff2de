package peer

import "golang.org/x/sys/unix"

func dupFD(fd int) (int, error) { return unix.Dup(fd) }

func closeFD(fd int) error { return unix.Close(fd) }
