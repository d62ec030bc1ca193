package model

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// FlowKey identifies a bidirectional IPv4 transport flow. Both directions of a
// conversation map to the same key: the endpoint with the smaller
// (address, port) pair is always stored first. Build keys with NewFlowKey.
type FlowKey struct {
	Addr1    uint32
	Addr2    uint32
	Port1    uint16
	Port2    uint16
	Protocol uint8
}

// NewFlowKey returns the canonical key for a packet travelling from
// srcIP:srcPort to dstIP:dstPort.
func NewFlowKey(srcIP, dstIP uint32, srcPort, dstPort uint16, protocol uint8) FlowKey {
	if srcIP > dstIP || (srcIP == dstIP && srcPort > dstPort) {
		srcIP, dstIP = dstIP, srcIP
		srcPort, dstPort = dstPort, srcPort
	}
	return FlowKey{
		Addr1:    srcIP,
		Addr2:    dstIP,
		Port1:    srcPort,
		Port2:    dstPort,
		Protocol: protocol,
	}
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Hash returns the 32-bit FNV-1a digest of the key's 13 bytes in network order.
// The result only depends on the key, so it is stable across runs.
func (k FlowKey) Hash() uint32 {
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[0:4], k.Addr1)
	binary.BigEndian.PutUint32(buf[4:8], k.Addr2)
	binary.BigEndian.PutUint16(buf[8:10], k.Port1)
	binary.BigEndian.PutUint16(buf[10:12], k.Port2)
	buf[12] = k.Protocol

	h := uint32(fnvOffset32)
	for _, b := range buf {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	return h
}

// IP1 returns the first endpoint address as a net.IP.
func (k FlowKey) IP1() net.IP { return uint32ToIP(k.Addr1) }

// IP2 returns the second endpoint address as a net.IP.
func (k FlowKey) IP2() net.IP { return uint32ToIP(k.Addr2) }

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d <-> %s:%d %s", k.IP1(), k.Port1, k.IP2(), k.Port2, ProtocolName(k.Protocol))
}

// ArtifactName is the file name used for the session's artifact:
// {addr1}-{addr2}-{port1}-{port2}-{protocol}.{ext}, every field in unsigned decimal.
func (k FlowKey) ArtifactName(ext string) string {
	return fmt.Sprintf("%d-%d-%d-%d-%d.%s", k.Addr1, k.Addr2, k.Port1, k.Port2, k.Protocol, ext)
}

// IPToUint32 converts an IPv4 address to its big-endian integer form.
// It returns 0 for addresses that are not IPv4.
func IPToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// ProtocolName returns "TCP", "UDP", or the protocol number.
func ProtocolName(p uint8) string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("proto-%d", p)
	}
}

// RawPacket is one captured frame. Data holds the captured bytes, Length the
// original on-wire length. A RawPacket has a single owner at any time.
type RawPacket struct {
	Timestamp time.Time
	Data      []byte
	Length    int
}

// KeyedPacket is what the dispatcher hands to a shard: the packet plus the
// key it was already parsed into.
type KeyedPacket struct {
	Key    FlowKey
	Packet *RawPacket
}

// Session is the ordered list of packets observed for one flow key.
// FirstSeen and LastSeen are capture timestamps of the first and last packet.
type Session struct {
	Key       FlowKey
	Packets   []*RawPacket
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewSession starts a session with its first packet.
func NewSession(key FlowKey, first *RawPacket) *Session {
	return &Session{
		Key:       key,
		Packets:   []*RawPacket{first},
		FirstSeen: first.Timestamp,
		LastSeen:  first.Timestamp,
	}
}

// Append adds a packet in arrival order.
func (s *Session) Append(p *RawPacket) {
	s.Packets = append(s.Packets, p)
	if p.Timestamp.After(s.LastSeen) {
		s.LastSeen = p.Timestamp
	}
}

// Bytes is the total number of captured bytes in the session.
func (s *Session) Bytes() int {
	n := 0
	for _, p := range s.Packets {
		n += len(p.Data)
	}
	return n
}

// ReapReason records why a session left its shard.
type ReapReason string

const (
	// ReasonIdle: the reaper found the session idle past the timeout.
	ReasonIdle ReapReason = "idle"
	// ReasonGap: a packet arrived after the session had already gone idle.
	ReasonGap ReapReason = "gap"
	// ReasonFlush: the shard was shutting down.
	ReasonFlush ReapReason = "flush"
)

// CompletedSession is the message a shard places on the completed-session queue.
type CompletedSession struct {
	Key     FlowKey
	Session *Session
	Reason  ReapReason
}

// SessionRecord describes one persisted artifact.
type SessionRecord struct {
	RunID     string
	Key       FlowKey
	Format    string
	Path      string
	Packets   int
	Bytes     int
	FirstSeen time.Time
	LastSeen  time.Time
	Reason    ReapReason
	WrittenAt time.Time
}
