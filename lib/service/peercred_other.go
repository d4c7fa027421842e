// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package service

import (
	"errors"
	"net"
)

// PeerCredentials is only implemented on Linux.
func PeerCredentials(conn net.Conn) (Credentials, error) {
	return Credentials{}, errors.New("peer credentials are not supported on this platform")
}
