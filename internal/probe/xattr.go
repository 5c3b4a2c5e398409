package probe

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Extended attributes consumed by the engine. Whoever assigns them is an
// external collaborator; the values are read as-is.
const (
	PriorityAttr = "user.coldshift.priority"
	PinAttr      = "user.coldshift.pin"
)

// Priority reads the ranking value assigned to path, falling back to def
// when the attribute is absent, unreadable, or not a decimal uint64.
func Priority(path string, def uint64) uint64 {
	val, err := getXattr(path, PriorityAttr)
	if err != nil {
		return def
	}
	prio, err := strconv.ParseUint(strings.TrimSpace(string(val)), 10, 64)
	if err != nil {
		return def
	}
	return prio
}

// PinTarget reads the tier directory path is pinned to, or "" if unpinned.
func PinTarget(path string) string {
	val, err := getXattr(path, PinAttr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(val))
}

func getXattr(path, name string) ([]byte, error) {
	sz, err := unix.Getxattr(path, name, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	n, err := unix.Getxattr(path, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
