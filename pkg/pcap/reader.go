package pcap

import (
	"Go2NetVision/internal/logger"
	"Go2NetVision/internal/model"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

const (
	// DefaultFilter keeps IPv4 and VLAN-tagged traffic.
	DefaultFilter = "ip or vlan"

	BackendLibpcap = "libpcap"
	BackendPcapgo  = "pcapgo"

	snapLen = 262144
)

var (
	// ErrOpen means the capture file could not be opened or is not a capture.
	ErrOpen = errors.New("cannot open capture")
	// ErrFilter means the BPF filter expression did not compile.
	ErrFilter = errors.New("invalid capture filter")
)

// Options selects the filter and the backend used to read a capture.
type Options struct {
	Filter string
	// Backend is BackendLibpcap (default) or BackendPcapgo, which reads pcap
	// and pcapng files in Go and applies the filter per packet.
	Backend string
}

// Reader reads packets from a capture file in capture order.
type Reader struct {
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	bpf      *pcap.BPF
	close    func()
}

// Open opens filePath and installs the filter.
func Open(filePath string, opts Options) (*Reader, error) {
	switch opts.Backend {
	case "", BackendLibpcap:
		return openLibpcap(filePath, opts.Filter)
	case BackendPcapgo:
		return openPcapgo(filePath, opts.Filter)
	default:
		return nil, fmt.Errorf("unknown capture backend '%s'", opts.Backend)
	}
}

func openLibpcap(filePath, filter string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrOpen, filePath, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w '%s': %v", ErrFilter, filter, err)
		}
	}
	return &Reader{source: handle, linkType: handle.LinkType(), close: handle.Close}, nil
}

func openPcapgo(filePath, filter string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrOpen, filePath, err)
	}
	closeFile := func() { file.Close() }

	r := &Reader{close: closeFile}
	if ng, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions); err == nil {
		r.source, r.linkType = ng, ng.LinkType()
	} else {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w '%s': %v", ErrOpen, filePath, err)
		}
		classic, err := pcapgo.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w '%s': %v", ErrOpen, filePath, err)
		}
		r.source, r.linkType = classic, classic.LinkType()
	}

	if filter != "" {
		bpf, err := pcap.NewBPF(r.linkType, snapLen, filter)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w '%s': %v", ErrFilter, filter, err)
		}
		r.bpf = bpf
	}
	return r, nil
}

// LinkType is the capture's link-layer header type.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Next returns the next packet accepted by the filter, or io.EOF.
func (r *Reader) Next() (*model.RawPacket, error) {
	for {
		data, ci, err := r.source.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Warnf("Capture ends inside a packet record, treating it as truncated: %v", err)
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if r.bpf != nil && !r.bpf.Matches(ci, data) {
			continue
		}
		return &model.RawPacket{Timestamp: ci.Timestamp, Data: data, Length: ci.Length}, nil
	}
}

// Close releases the underlying file or handle.
func (r *Reader) Close() {
	r.close()
}
