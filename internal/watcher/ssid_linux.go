package watcher

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Wireless-extensions ioctl for reading the ESSID. Still the lowest-common
// denominator across drivers, including ones without full nl80211 support.
const (
	siocgiwessid   = 0x8B1B
	essidMaxLength = 32
)

// iwreqEssid mirrors struct iwreq with the iw_point union member.
type iwreqEssid struct {
	Name    [unix.IFNAMSIZ]byte
	Pointer unsafe.Pointer
	Length  uint16
	Flags   uint16
	_       [4]byte
}

// WirelessExtResolver reads the associated SSID via the wireless-extensions
// ioctl interface.
type WirelessExtResolver struct{}

// SSID returns the SSID iface is associated with, or an empty string when
// it is not associated.
func (WirelessExtResolver) SSID(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open ioctl socket: %w", err)
	}
	defer unix.Close(fd)

	buf := make([]byte, essidMaxLength)
	var req iwreqEssid
	copy(req.Name[:], iface)
	req.Pointer = unsafe.Pointer(&buf[0])
	req.Length = essidMaxLength

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), siocgiwessid, uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		if errno == unix.EOPNOTSUPP || errno == unix.EINVAL {
			// Not a wireless interface.
			return "", nil
		}
		return "", fmt.Errorf("SIOCGIWESSID on %s: %w", iface, errno)
	}

	n := int(req.Length)
	if n > len(buf) {
		n = len(buf)
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}
