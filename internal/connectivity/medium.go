package connectivity

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const arphrdEther = 1

// RouteTable classifies the interface that carries the default route.
type RouteTable struct {
	procRoot string
	sysRoot  string
}

// NewRouteTable reads the live /proc and /sys trees.
func NewRouteTable() *RouteTable {
	return &RouteTable{procRoot: "/proc", sysRoot: "/sys"}
}

// DefaultInterface returns the interface of the first default route in
// /proc/net/route.
func (r *RouteTable) DefaultInterface() string {
	f, err := os.Open(filepath.Join(r.procRoot, "net", "route"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[1] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&0x1 == 0 {
			continue
		}
		return fields[0]
	}
	return ""
}

// DefaultMedium classifies the default-route interface.
func (r *RouteTable) DefaultMedium() string {
	iface := r.DefaultInterface()
	if iface == "" {
		return MediumNone
	}
	return r.Classify(iface)
}

// Classify returns the medium of a named interface.
func (r *RouteTable) Classify(iface string) string {
	base := filepath.Join(r.sysRoot, "class", "net", iface)
	if _, err := os.Stat(filepath.Join(base, "wireless")); err == nil {
		return MediumWiFi
	}
	if _, err := os.Stat(filepath.Join(base, "phy80211")); err == nil {
		return MediumWiFi
	}
	for _, prefix := range []string{"wwan", "ppp", "rmnet", "usb", "wwp"} {
		if strings.HasPrefix(iface, prefix) {
			return MediumCellular
		}
	}
	if data, err := os.ReadFile(filepath.Join(base, "type")); err == nil {
		if kind, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && kind == arphrdEther {
			return MediumEthernet
		}
	}
	return MediumUnknown
}
