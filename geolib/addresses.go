package geolib

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/asergeyev/nradix"
)

// AddressClass is a class of special-purpose IPv4 range an address
// belongs to.
type AddressClass string

const (
	AddressPublic      AddressClass = "public"
	AddressPrivate     AddressClass = "private"
	AddressLoopback    AddressClass = "loopback"
	AddressLinkLocal   AddressClass = "link-local"
	AddressMulticast   AddressClass = "multicast"
	AddressReserved    AddressClass = "reserved"
	AddressUnspecified AddressClass = "unspecified"
)

var specialAddressRanges = []struct {
	cidr  string
	class AddressClass
}{
	{"0.0.0.0/8", AddressUnspecified},
	{"10.0.0.0/8", AddressPrivate},
	{"100.64.0.0/10", AddressReserved},
	{"127.0.0.0/8", AddressLoopback},
	{"169.254.0.0/16", AddressLinkLocal},
	{"172.16.0.0/12", AddressPrivate},
	{"192.0.0.0/24", AddressReserved},
	{"192.0.2.0/24", AddressReserved},
	{"192.168.0.0/16", AddressPrivate},
	{"198.18.0.0/15", AddressReserved},
	{"198.51.100.0/24", AddressReserved},
	{"203.0.113.0/24", AddressReserved},
	{"224.0.0.0/4", AddressMulticast},
	{"240.0.0.0/4", AddressReserved},
}

var specialAddressTree = func() *nradix.Tree {
	tree := nradix.NewTree(len(specialAddressRanges))

	for _, v := range specialAddressRanges {
		if err := tree.AddCIDR(v.cidr, v.class); err != nil {
			panic(err)
		}
	}

	return tree
}()

// ParseIPv4 parses a dotted-quad IPv4 address. Surrounding whitespace is
// ignored. IPv6 notation, including IPv4-mapped one, is rejected.
func ParseIPv4(value string) (net.IP, error) {
	value = strings.TrimSpace(value)

	if value == "" || strings.Contains(value, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}

	ip := net.ParseIP(value).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}

	return ip, nil
}

// ClassifyIP returns a class of the special-purpose range the address
// belongs to. Addresses outside of any such range are public.
func ClassifyIP(ip net.IP) AddressClass {
	ip = ip.To4()
	if ip == nil {
		return AddressReserved
	}

	value, err := specialAddressTree.FindCIDR(ip.String() + "/32")
	if err != nil || value == nil {
		return AddressPublic
	}

	return value.(AddressClass)
}

// IsPrivate reports if address is private, loopback or link-local: the
// ones which never make sense to geolocate.
func IsPrivate(ip net.IP) bool {
	switch ClassifyIP(ip) {
	case AddressPrivate, AddressLoopback, AddressLinkLocal:
		return true
	default:
		return false
	}
}

// IsPublic reports if address does not belong to any special-purpose
// range.
func IsPublic(ip net.IP) bool {
	return ClassifyIP(ip) == AddressPublic
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(value uint32) net.IP {
	ip := make(net.IP, net.IPv4len)

	binary.BigEndian.PutUint32(ip, value)

	return ip
}
