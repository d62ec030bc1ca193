package protocol

import (
	"Go2NetVision/internal/model"
	"Go2NetVision/internal/testutil"
	"encoding/binary"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFlowKey_TCP(t *testing.T) {
	f := testutil.Frame{SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 80, DstPort: 1000, Protocol: model.ProtocolTCP, Payload: []byte("hello")}
	data, err := f.Ethernet()
	require.NoError(t, err)

	key, err := ExtractFlowKey(layers.LinkTypeEthernet, data)
	require.NoError(t, err)
	assert.Equal(t, model.FlowKey{Addr1: 0x0a000001, Addr2: 0x0a000002, Port1: 1000, Port2: 80, Protocol: 6}, key)
}

func TestExtractFlowKey_UDPWithVLAN(t *testing.T) {
	f := testutil.Frame{SrcIP: "192.168.1.5", DstIP: "8.8.8.8", SrcPort: 5353, DstPort: 53, Protocol: model.ProtocolUDP, VLAN: 42}
	data, err := f.Ethernet()
	require.NoError(t, err)

	key, err := ExtractFlowKey(layers.LinkTypeEthernet, data)
	require.NoError(t, err)
	assert.Equal(t, f.Key(), key)
	assert.Equal(t, uint8(17), key.Protocol)
}

func TestExtractFlowKey_RawIPv4(t *testing.T) {
	f := testutil.Frame{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", SrcPort: 1, DstPort: 2, Protocol: model.ProtocolTCP}
	data, err := f.RawIPv4()
	require.NoError(t, err)

	key, err := ExtractFlowKey(layers.LinkTypeRaw, data)
	require.NoError(t, err)
	assert.Equal(t, f.Key(), key)
}

func TestExtractFlowKey_LinuxSLL(t *testing.T) {
	f := testutil.Frame{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", SrcPort: 9, DstPort: 7, Protocol: model.ProtocolUDP}
	ip, err := f.RawIPv4()
	require.NoError(t, err)
	sll := make([]byte, 16)
	binary.BigEndian.PutUint16(sll[14:16], uint16(layers.EthernetTypeIPv4))

	key, err := ExtractFlowKey(layers.LinkTypeLinuxSLL, append(sll, ip...))
	require.NoError(t, err)
	assert.Equal(t, f.Key(), key)
}

func TestExtractFlowKey_Rejections(t *testing.T) {
	tcp := testutil.Frame{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", SrcPort: 10, DstPort: 20, Protocol: model.ProtocolTCP}
	good, err := tcp.Ethernet()
	require.NoError(t, err)

	ipv6 := append([]byte(nil), good...)
	binary.BigEndian.PutUint16(ipv6[12:14], uint16(layers.EthernetTypeIPv6))

	icmp := append([]byte(nil), good...)
	icmp[14+9] = byte(layers.IPProtocolICMPv4)

	fragment := append([]byte(nil), good...)
	binary.BigEndian.PutUint16(fragment[14+6:14+8], 0x0010)

	badIHL := append([]byte(nil), good...)
	badIHL[14] = 0x44

	tests := []struct {
		name     string
		linkType layers.LinkType
		data     []byte
		want     error
		reason   string
	}{
		{"ipv6 ethertype", layers.LinkTypeEthernet, ipv6, ErrNotIPv4, "not_ipv4"},
		{"icmp", layers.LinkTypeEthernet, icmp, ErrUnsupportedTransport, "unsupported_transport"},
		{"non-first fragment", layers.LinkTypeEthernet, fragment, ErrFragment, "fragment"},
		{"ihl below minimum", layers.LinkTypeEthernet, badIHL, ErrMalformed, "malformed"},
		{"empty", layers.LinkTypeEthernet, nil, ErrMalformed, "malformed"},
		{"unknown link", layers.LinkTypeFDDI, good, ErrUnsupportedLink, "unsupported_link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFlowKey(tt.linkType, tt.data)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, DropReason(err))
		})
	}
}

func TestExtractFlowKey_TruncatedAtEveryLength(t *testing.T) {
	for _, f := range []testutil.Frame{
		{SrcIP: "10.1.1.1", DstIP: "10.2.2.2", SrcPort: 1234, DstPort: 443, Protocol: model.ProtocolTCP},
		{SrcIP: "10.1.1.1", DstIP: "10.2.2.2", SrcPort: 1234, DstPort: 53, Protocol: model.ProtocolUDP, VLAN: 7},
	} {
		data, err := f.Ethernet()
		require.NoError(t, err)

		for n := 0; n < len(data); n++ {
			key, err := ExtractFlowKey(layers.LinkTypeEthernet, data[:n])
			if err == nil {
				// Once all headers fit, extraction must agree with the full frame.
				assert.Equal(t, f.Key(), key, "prefix length %d", n)
				continue
			}
			assert.ErrorIs(t, err, ErrMalformed, "prefix length %d", n)
		}
	}
}

func TestShortError(t *testing.T) {
	_, err := ExtractFlowKey(layers.LinkTypeEthernet, make([]byte, 10))
	var se *ShortError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ethernet", se.Layer)
	assert.Equal(t, 14, se.Wanted)
	assert.Equal(t, 10, se.Available)
}
