//go:build linux

package ingest

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials describes the process on the other end of conn, as reported
// by SO_PEERCRED at connect time.
func peerCredentials(conn *net.UnixConn) (string, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return "", false
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil {
		return "", false
	}
	return fmt.Sprintf("pid=%d uid=%d gid=%d", cred.Pid, cred.Uid, cred.Gid), true
}
