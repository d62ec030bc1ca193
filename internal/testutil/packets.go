// Package testutil builds synthetic frames and capture files for tests and
// the pcapgen tool.
package testutil

import (
	"Go2NetVision/internal/model"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Frame describes one synthetic IPv4 packet.
type Frame struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // model.ProtocolTCP or model.ProtocolUDP
	Payload  []byte
	VLAN     uint16 // 0 means untagged
	At       time.Time
}

// Key returns the canonical flow key the frame should map to.
func (f Frame) Key() model.FlowKey {
	return model.NewFlowKey(
		model.IPToUint32(net.ParseIP(f.SrcIP)),
		model.IPToUint32(net.ParseIP(f.DstIP)),
		f.SrcPort, f.DstPort, f.Protocol,
	)
}

// Ethernet serializes the frame with an Ethernet header (and 802.1Q tag if VLAN is set).
func (f Frame) Ethernet() ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	stack := []gopacket.SerializableLayer{eth}
	if f.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: f.VLAN,
			Type:           layers.EthernetTypeIPv4,
		})
	}
	ipStack, err := f.ipLayers()
	if err != nil {
		return nil, err
	}
	return serialize(append(stack, ipStack...)...)
}

// RawIPv4 serializes the frame starting at the IPv4 header.
func (f Frame) RawIPv4() ([]byte, error) {
	ipStack, err := f.ipLayers()
	if err != nil {
		return nil, err
	}
	return serialize(ipStack...)
}

func (f Frame) ipLayers() ([]gopacket.SerializableLayer, error) {
	src := net.ParseIP(f.SrcIP).To4()
	dst := net.ParseIP(f.DstIP).To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("invalid IPv4 addresses %q -> %q", f.SrcIP, f.DstIP)
	}
	ip := &layers.IPv4{
		SrcIP:   src,
		DstIP:   dst,
		Version: 4,
		IHL:     5,
		TTL:     64,
	}
	var transport gopacket.SerializableLayer
	switch f.Protocol {
	case model.ProtocolTCP:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			Seq:     1,
			ACK:     true,
			Window:  14600,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		transport = tcp
	case model.ProtocolUDP:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(f.SrcPort),
			DstPort: layers.UDPPort(f.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		transport = udp
	default:
		return nil, fmt.Errorf("unsupported protocol %d", f.Protocol)
	}
	return []gopacket.SerializableLayer{ip, transport, gopacket.Payload(f.Payload)}, nil
}

func serialize(stack ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}

// RawPacket wraps the Ethernet encoding of f as a model.RawPacket.
func (f Frame) RawPacket() (*model.RawPacket, error) {
	data, err := f.Ethernet()
	if err != nil {
		return nil, err
	}
	return &model.RawPacket{Timestamp: f.At, Data: data, Length: len(data)}, nil
}

// WritePcap writes the frames as an Ethernet pcap file at path.
func WritePcap(path string, frames []Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	defer file.Close()

	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for i, f := range frames {
		data, err := f.Ethernet()
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     f.At,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet %d: %w", i, err)
		}
	}
	return nil
}
