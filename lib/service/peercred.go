// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"net"
	"os"
)

// Credentials identify the process on the other end of a Unix socket.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// SameUserOrRoot returns a ConnCheck admitting only peers running as
// uid or as root. The ingest socket uses it with the server's own uid
// so that only the local capture pipeline can append records.
func SameUserOrRoot(uid uint32) ConnCheck {
	return func(conn net.Conn) error {
		credentials, err := PeerCredentials(conn)
		if err != nil {
			return err
		}
		if credentials.UID != uid && credentials.UID != 0 {
			return fmt.Errorf("peer uid %d (pid %d) is not %d or root", credentials.UID, credentials.PID, uid)
		}
		return nil
	}
}

// CurrentUID returns the uid of this process, for SameUserOrRoot.
func CurrentUID() uint32 { return uint32(os.Getuid()) }
