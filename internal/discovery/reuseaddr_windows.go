//go:build windows

package discovery

import (
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// setReuseAddr sets SO_REUSEADDR on the SSDP UDP socket per §4.2.2.
func setReuseAddr(conn net.PacketConn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		var enable int32 = 1
		sockErr = windows.Setsockopt(
			windows.Handle(fd),
			windows.SOL_SOCKET,
			windows.SO_REUSEADDR,
			(*byte)(unsafe.Pointer(&enable)),
			int32(unsafe.Sizeof(enable)),
		)
	})
	if err != nil {
		return err
	}
	return sockErr
}
