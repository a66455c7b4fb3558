// Package netcheck reports whether the host has a usable network link.
package netcheck

import (
	"context"
	"net"
)

// Probe is consulted before every network attempt.
type Probe interface {
	Ready(ctx context.Context) bool
}

// InterfaceProbe is ready when at least one non-loopback interface is up and
// carries a unicast address. If Name is set only that interface counts.
type InterfaceProbe struct {
	Name string

	// interfaces is swapped in tests.
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

func (p InterfaceProbe) Ready(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	list := net.Interfaces
	if p.interfaces != nil {
		list = p.interfaces
	}
	addrsOf := func(ifc net.Interface) ([]net.Addr, error) { return ifc.Addrs() }
	if p.addrs != nil {
		addrsOf = p.addrs
	}

	ifaces, err := list()
	if err != nil {
		return false
	}
	for _, ifc := range ifaces {
		if p.Name != "" && ifc.Name != p.Name {
			continue
		}
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := addrsOf(ifc)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}

// Static is a Probe with a fixed answer.
type Static bool

func (s Static) Ready(context.Context) bool { return bool(s) }
