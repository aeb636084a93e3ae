package network

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// GetOutboundIP gets the preferred outbound ip address of this machine
func GetOutboundIP() (netip.Addr, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dialing to get outbound ip address: %v", err)
	}
	defer conn.Close()
	ip := conn.LocalAddr().(*net.UDPAddr).IP
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, fmt.Errorf("parsing addr: %v", ip)
	}
	return addr.Unmap(), nil
}

// AdvertiseIP returns the address peers should use to reach a listener bound to host.
// Wildcard and empty hosts resolve to the outbound interface address.
func AdvertiseIP(host string) (netip.Addr, error) {
	if host == "" {
		return GetOutboundIP()
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return netip.Addr{}, fmt.Errorf("resolving %q: %w", host, lookupErr)
		}
		addr, _ = netip.AddrFromSlice(ips[0])
		return addr.Unmap(), nil
	}
	if addr.IsUnspecified() {
		return GetOutboundIP()
	}
	return addr, nil
}

// JoinHostPort formats host and port, treating an empty host as all interfaces.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// DialAddr turns a bound address into one a local client can dial. Wildcard hosts map
// to loopback.
func DialAddr(a net.Addr) string {
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return a.String()
	}
	if ap.Addr().IsUnspecified() {
		lo := netip.MustParseAddr("127.0.0.1")
		if ap.Addr().Is6() && !ap.Addr().Is4In6() {
			lo = netip.IPv6Loopback()
		}
		return netip.AddrPortFrom(lo, ap.Port()).String()
	}
	return ap.String()
}

// IdleConn wraps c so every Read and Write first pushes the deadline timeout into the
// future. Long transfers then only fail when the peer stalls.
func IdleConn(c net.Conn, timeout time.Duration) net.Conn {
	return idleConn{Conn: c, timeout: timeout}
}

type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
