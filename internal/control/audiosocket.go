package control

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"

	"github.com/crasd/crasd/pkg/wire"
)

// EnsureSocketDir creates dir (if needed) with the permission sequence
// spec.md section 6 names: create 0700, chgrp to audioGroup, then widen
// to 0770 — narrow window first, group access granted only once
// ownership is right, rather than creating it world/group-writable from
// the start.
func EnsureSocketDir(dir, audioGroup string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("control: mkdir %s: %w", dir, err)
	}
	grp, err := user.LookupGroup(audioGroup)
	if err != nil {
		return fmt.Errorf("control: lookup group %s: %w", audioGroup, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("control: parse gid %s: %w", grp.Gid, err)
	}
	if err := os.Chown(dir, -1, gid); err != nil {
		return fmt.Errorf("control: chgrp %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0o770); err != nil {
		return fmt.Errorf("control: chmod %s: %w", dir, err)
	}
	return nil
}

// ListenAudioSocket opens the per-stream audio side-channel socket at
// wire.AudioSocketPath(sockDir, audFilePattern, streamID), spec.md
// section 6 "Audio side-channel".
func ListenAudioSocket(sockDir, audFilePattern string, streamID uint64) (net.Listener, string, error) {
	path := wire.AudioSocketPath(sockDir, audFilePattern, streamID)
	_ = os.Remove(path) // stale socket from a crashed prior run
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, "", fmt.Errorf("control: listen audio socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o770); err != nil {
		l.Close()
		return nil, "", fmt.Errorf("control: chmod audio socket %s: %w", path, err)
	}
	return l, path, nil
}
