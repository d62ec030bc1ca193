package encoder

import (
	"Go2NetVision/internal/model"
	"bytes"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 262144

func init() {
	Register("pcap", newPcap)
}

// Pcap writes the session back out as a standalone capture file.
type Pcap struct {
	opts Options
}

func newPcap(opts Options) (model.Encoder, error) {
	return &Pcap{opts: opts}, nil
}

func (p *Pcap) Name() string      { return "pcap" }
func (p *Pcap) Extension() string { return "pcap" }

func (p *Pcap) Encode(packets []*model.RawPacket) ([]byte, error) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(snapLen, p.opts.LinkType); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	for _, pkt := range packets {
		length := pkt.Length
		if length < len(pkt.Data) {
			length = len(pkt.Data)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     pkt.Timestamp,
			CaptureLength: len(pkt.Data),
			Length:        length,
		}
		if err := w.WritePacket(ci, pkt.Data); err != nil {
			return nil, fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return buf.Bytes(), nil
}
