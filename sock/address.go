package sock

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// addrRawSize is wide enough to hold a port plus an IPv6 address.
const addrRawSize = 18

// Address is a fixed-size, comparable key for a peer's network address: the
// address family plus the raw sockaddr bytes and their length. Being a struct
// of fixed-size fields it can be used directly as a Go map key, the way the
// route table and the reconnect list both need.
type Address struct {
	Family int32
	Raw    [addrRawSize]byte
	Len    int32
}

// String renders the address for logs.
func (a Address) String() string {
	ip, port, err := a.decode()
	if err != nil {
		return fmt.Sprintf("<invalid addr family=%d>", a.Family)
	}
	return net.JoinHostPort(ip.String(), fmt.Sprint(port))
}

// decode unpacks the port (first 2 bytes, big endian) and IP (remaining Len-2
// bytes) out of Raw.
func (a Address) decode() (net.IP, int, error) {
	if a.Len < 2 || int(a.Len) > len(a.Raw) {
		return nil, 0, fmt.Errorf("sock: invalid address length %d", a.Len)
	}
	port := int(binary.BigEndian.Uint16(a.Raw[:2]))
	ip := make(net.IP, a.Len-2)
	copy(ip, a.Raw[2:a.Len])
	return ip, port, nil
}

// AddressFromTCP packs a *net.TCPAddr into the fixed-size wire Address.
func AddressFromTCP(t *net.TCPAddr) (Address, error) {
	var a Address
	if ip4 := t.IP.To4(); ip4 != nil {
		a.Family = unix.AF_INET
		a.Len = 2 + int32(len(ip4))
		binary.BigEndian.PutUint16(a.Raw[:2], uint16(t.Port))
		copy(a.Raw[2:a.Len], ip4)
		return a, nil
	}
	ip6 := t.IP.To16()
	if ip6 == nil {
		return a, fmt.Errorf("sock: address %s is neither IPv4 nor IPv6", t.IP)
	}
	a.Family = unix.AF_INET6
	a.Len = 2 + int32(len(ip6))
	binary.BigEndian.PutUint16(a.Raw[:2], uint16(t.Port))
	copy(a.Raw[2:a.Len], ip6)
	return a, nil
}

// toSockaddr converts the fixed-size Address back into a unix.Sockaddr for
// use with Connect/Bind.
func (a Address) toSockaddr() (unix.Sockaddr, error) {
	ip, port, err := a.decode()
	if err != nil {
		return nil, err
	}
	switch a.Family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip.To4())
		return sa, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], ip.To16())
		return sa, nil
	default:
		return nil, fmt.Errorf("sock: unsupported address family %d", a.Family)
	}
}
