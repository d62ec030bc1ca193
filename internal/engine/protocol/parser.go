package protocol

import (
	"Go2NetVision/internal/model"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"
)

// Minimum header sizes used for bounds checks.
const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	sllHeaderLen      = 16
	ipv4MinHeaderLen  = 20
	tcpMinHeaderLen   = 20
	udpHeaderLen      = 8
)

var (
	// ErrMalformed means a header was shorter than its declared or minimum size.
	ErrMalformed = errors.New("malformed packet")
	// ErrNotIPv4 means the network layer is not IPv4.
	ErrNotIPv4 = errors.New("not an IPv4 packet")
	// ErrUnsupportedTransport means the IPv4 payload is neither TCP nor UDP.
	ErrUnsupportedTransport = errors.New("not a TCP or UDP packet")
	// ErrFragment means the packet is a non-first IPv4 fragment with no transport header.
	ErrFragment = errors.New("non-first IPv4 fragment")
	// ErrUnsupportedLink means the capture's link type is not handled.
	ErrUnsupportedLink = errors.New("unsupported link type")
)

// ShortError reports a header that did not fit in the captured bytes.
type ShortError struct {
	Layer     string
	Wanted    int
	Available int
}

func (e *ShortError) Error() string {
	return fmt.Sprintf("%s header truncated: wanted %d bytes, have %d", e.Layer, e.Wanted, e.Available)
}

// Is lets errors.Is(err, ErrMalformed) match a *ShortError.
func (e *ShortError) Is(target error) bool {
	return target == ErrMalformed
}

func short(layer string, wanted, available int) error {
	return &ShortError{Layer: layer, Wanted: wanted, Available: available}
}

// ExtractFlowKey parses the link, network and transport headers of a frame
// and returns its canonical flow key. Every read is bounds-checked: a
// truncated or garbage frame yields an error, never a panic.
func ExtractFlowKey(linkType layers.LinkType, data []byte) (model.FlowKey, error) {
	ipOffset, err := networkOffset(linkType, data)
	if err != nil {
		return model.FlowKey{}, err
	}
	return parseIPv4(data[ipOffset:])
}

// networkOffset walks the link header (and at most one 802.1Q tag) and
// returns where the IPv4 header starts.
func networkOffset(linkType layers.LinkType, data []byte) (int, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		if len(data) < ethernetHeaderLen {
			return 0, short("ethernet", ethernetHeaderLen, len(data))
		}
		etherType := layers.EthernetType(binary.BigEndian.Uint16(data[12:14]))
		offset := ethernetHeaderLen
		if etherType == layers.EthernetTypeDot1Q || etherType == layers.EthernetTypeQinQ {
			if len(data) < offset+vlanTagLen {
				return 0, short("vlan", offset+vlanTagLen, len(data))
			}
			etherType = layers.EthernetType(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
			offset += vlanTagLen
		}
		if etherType != layers.EthernetTypeIPv4 {
			return 0, fmt.Errorf("%w: ethertype %s", ErrNotIPv4, etherType)
		}
		return offset, nil

	case layers.LinkTypeLinuxSLL:
		if len(data) < sllHeaderLen {
			return 0, short("linux-sll", sllHeaderLen, len(data))
		}
		etherType := layers.EthernetType(binary.BigEndian.Uint16(data[14:16]))
		if etherType != layers.EthernetTypeIPv4 {
			return 0, fmt.Errorf("%w: ethertype %s", ErrNotIPv4, etherType)
		}
		return sllHeaderLen, nil

	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return 0, nil

	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLink, linkType)
	}
}

func parseIPv4(ip []byte) (model.FlowKey, error) {
	if len(ip) < 1 {
		return model.FlowKey{}, short("ipv4", ipv4MinHeaderLen, len(ip))
	}
	if version := ip[0] >> 4; version != 4 {
		return model.FlowKey{}, fmt.Errorf("%w: ip version %d", ErrNotIPv4, version)
	}
	if len(ip) < ipv4MinHeaderLen {
		return model.FlowKey{}, short("ipv4", ipv4MinHeaderLen, len(ip))
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen {
		return model.FlowKey{}, fmt.Errorf("%w: ipv4 header length %d", ErrMalformed, ihl)
	}
	if len(ip) < ihl {
		return model.FlowKey{}, short("ipv4", ihl, len(ip))
	}

	if fragOffset := binary.BigEndian.Uint16(ip[6:8]) & 0x1fff; fragOffset != 0 {
		return model.FlowKey{}, ErrFragment
	}

	protocol := layers.IPProtocol(ip[9])
	srcIP := binary.BigEndian.Uint32(ip[12:16])
	dstIP := binary.BigEndian.Uint32(ip[16:20])
	transport := ip[ihl:]

	switch protocol {
	case layers.IPProtocolTCP:
		if len(transport) < tcpMinHeaderLen {
			return model.FlowKey{}, short("tcp", tcpMinHeaderLen, len(transport))
		}
	case layers.IPProtocolUDP:
		if len(transport) < udpHeaderLen {
			return model.FlowKey{}, short("udp", udpHeaderLen, len(transport))
		}
	default:
		return model.FlowKey{}, fmt.Errorf("%w: %s", ErrUnsupportedTransport, protocol)
	}

	srcPort := binary.BigEndian.Uint16(transport[0:2])
	dstPort := binary.BigEndian.Uint16(transport[2:4])
	return model.NewFlowKey(srcIP, dstIP, srcPort, dstPort, uint8(protocol)), nil
}

// DropReason maps an extraction error to a short label for counters.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrNotIPv4):
		return "not_ipv4"
	case errors.Is(err, ErrUnsupportedTransport):
		return "unsupported_transport"
	case errors.Is(err, ErrFragment):
		return "fragment"
	case errors.Is(err, ErrUnsupportedLink):
		return "unsupported_link"
	default:
		return "other"
	}
}
