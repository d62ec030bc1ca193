package main

import (
	"Go2NetVision/internal/model"
	"Go2NetVision/internal/testutil"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("flows", 100, "Number of bidirectional flows")
	packetsPerFlow := flag.Int("c", 20, "Packets per flow")
	udpShare := flag.Float64("udp", 0.2, "Fraction of flows that are UDP")
	vlanShare := flag.Float64("vlan", 0.1, "Fraction of flows carried in an 802.1Q tag")
	gap := flag.Duration("gap", 0, "Silence inserted halfway through every flow (0 disables), e.g. 15s to split sessions")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().Truncate(time.Second)

	var frames []testutil.Frame
	for i := 0; i < *flowCount; i++ {
		frames = append(frames, flowFrames(rng, start, *packetsPerFlow, *udpShare, *vlanShare, *gap)...)
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].At.Before(frames[j].At) })

	log.Printf("Generating %d packets in %d flows into %s...", len(frames), *flowCount, *outputFile)
	if err := testutil.WritePcap(*outputFile, frames); err != nil {
		log.Fatalf("Failed to write capture: %v", err)
	}
	log.Printf("Successfully generated %d packets into %s.", len(frames), *outputFile)
}

func randomIP(rng *rand.Rand) string {
	return fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), rng.Intn(254)+1)
}

// flowFrames builds one conversation that alternates direction packet by packet.
func flowFrames(rng *rand.Rand, start time.Time, n int, udpShare, vlanShare float64, gap time.Duration) []testutil.Frame {
	client, server := randomIP(rng), randomIP(rng)
	clientPort := uint16(rng.Intn(65535-1024) + 1024)
	serverPort := uint16([]int{53, 80, 443, 8080}[rng.Intn(4)])
	proto := uint8(model.ProtocolTCP)
	if rng.Float64() < udpShare {
		proto = model.ProtocolUDP
	}
	var vlan uint16
	if rng.Float64() < vlanShare {
		vlan = uint16(rng.Intn(4094) + 1)
	}

	at := start.Add(time.Duration(rng.Intn(1000)) * time.Millisecond)
	frames := make([]testutil.Frame, 0, n)
	for i := 0; i < n; i++ {
		if gap > 0 && i == n/2 {
			at = at.Add(gap)
		}
		payload := make([]byte, rng.Intn(1400)+50)
		rng.Read(payload)

		f := testutil.Frame{
			SrcIP: client, DstIP: server,
			SrcPort: clientPort, DstPort: serverPort,
			Protocol: proto, Payload: payload, VLAN: vlan, At: at,
		}
		if i%2 == 1 {
			f.SrcIP, f.DstIP = server, client
			f.SrcPort, f.DstPort = serverPort, clientPort
		}
		frames = append(frames, f)
		at = at.Add(time.Duration(rng.Intn(50)+1) * time.Millisecond)
	}
	return frames
}
