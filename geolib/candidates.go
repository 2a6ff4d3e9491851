package geolib

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/EvilSuperstars/go-cidrman"
)

const (
	DefaultGridStep       = 16
	DefaultRandomCount    = 10000
	DefaultProviderStride = 1

	// addresses with first octet above this value are multicast or
	// reserved.
	maxUnicastFirstOctet = 223
)

// CandidateStrategy generates addresses for the bulk importer. It
// pushes addresses into yield until it is exhausted or yield returns
// false.
type CandidateStrategy interface {
	Name() string
	Candidates(yield func(net.IP) bool)
}

// GridStrategy walks a coarse grid over the whole unicast IPv4 space:
// every octet but the last one advances by Step, the last one is fixed
// to 1. Non-public addresses are skipped.
type GridStrategy struct {
	Step uint8
}

func (g GridStrategy) Name() string {
	return "grid"
}

func (g GridStrategy) Candidates(yield func(net.IP) bool) {
	step := int(g.Step)
	if step == 0 {
		step = DefaultGridStep
	}

	for a := 1; a <= maxUnicastFirstOctet; a += step {
		for b := 0; b <= 255; b += step {
			for c := 0; c <= 255; c += step {
				ip := net.IPv4(byte(a), byte(b), byte(c), 1).To4()

				if IsPublic(ip) && !yield(ip) {
					return
				}
			}
		}
	}
}

// ProviderBlocksStrategy enumerates addresses of well-known networks of
// big providers. Blocks are merged first so overlapping ones are walked
// only once. Every Stride-th address is generated.
type ProviderBlocksStrategy struct {
	blocks []*net.IPNet
	stride uint32
}

func (p *ProviderBlocksStrategy) Name() string {
	return "providers"
}

func (p *ProviderBlocksStrategy) Candidates(yield func(net.IP) bool) {
	for _, block := range p.blocks {
		ones, bits := block.Mask.Size()
		if bits == 8*net.IPv6len {
			ones, bits = ones-96, 8*net.IPv4len
		}

		first := uint64(ipToUint32(block.IP))
		last := first + (uint64(1) << uint(bits-ones)) - 1

		for current := first; current <= last; current += uint64(p.stride) {
			ip := uint32ToIP(uint32(current))

			if IsPublic(ip) && !yield(ip) {
				return
			}
		}
	}
}

// NewProviderBlocksStrategy parses and merges given CIDRs.
func NewProviderBlocksStrategy(cidrs []string, stride uint32) (*ProviderBlocksStrategy, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))

	for _, v := range cidrs {
		_, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("incorrect CIDR %s: %w", v, err)
		}

		if ipnet.IP.To4() == nil {
			return nil, fmt.Errorf("%w: %s is not IPv4 network", ErrInvalidAddress, v)
		}

		nets = append(nets, ipnet)
	}

	merged, err := cidrman.MergeIPNets(nets)
	if err != nil {
		return nil, fmt.Errorf("cannot merge CIDRs: %w", err)
	}

	if stride == 0 {
		stride = DefaultProviderStride
	}

	return &ProviderBlocksStrategy{
		blocks: merged,
		stride: stride,
	}, nil
}

// RandomStrategy generates Count random public unicast addresses. The
// same Seed gives the same sequence. Zero seed means 'seed from clock'.
type RandomStrategy struct {
	Count int
	Seed  int64
}

func (r RandomStrategy) Name() string {
	return "random"
}

func (r RandomStrategy) Candidates(yield func(net.IP) bool) {
	seed := r.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	count := r.Count
	if count <= 0 {
		count = DefaultRandomCount
	}

	rnd := rand.New(rand.NewSource(seed)) // nolint: gosec

	for generated := 0; generated < count; {
		ip := uint32ToIP(rnd.Uint32())

		if ip[0] == 0 || ip[0] > maxUnicastFirstOctet || !IsPublic(ip) {
			continue
		}

		generated++

		if !yield(ip) {
			return
		}
	}
}

// EdgeCaseStrategy generates addresses from special-purpose ranges:
// private, loopback, link-local, multicast and reserved. All of them are
// expected to produce no data.
type EdgeCaseStrategy struct{}

var edgeCaseAddresses = []string{
	"0.0.0.0",
	"10.0.0.1",
	"10.255.255.254",
	"100.64.0.1",
	"127.0.0.1",
	"169.254.1.1",
	"172.16.0.1",
	"172.31.255.254",
	"192.0.2.1",
	"192.168.0.1",
	"192.168.255.254",
	"198.18.0.1",
	"198.51.100.1",
	"203.0.113.1",
	"224.0.0.1",
	"239.255.255.250",
	"240.0.0.1",
	"255.255.255.255",
}

func (e EdgeCaseStrategy) Name() string {
	return "edge"
}

func (e EdgeCaseStrategy) Candidates(yield func(net.IP) bool) {
	for _, v := range edgeCaseAddresses {
		if !yield(net.ParseIP(v).To4()) {
			return
		}
	}
}

// ListStrategy generates a given list of addresses as is.
type ListStrategy struct {
	Label string
	IPs   []net.IP
}

func (l ListStrategy) Name() string {
	if l.Label != "" {
		return l.Label
	}

	return "list"
}

func (l ListStrategy) Candidates(yield func(net.IP) bool) {
	for _, v := range l.IPs {
		if ip := v.To4(); ip != nil && !yield(ip) {
			return
		}
	}
}
