package encoder

import (
	"Go2NetVision/internal/model"
	"fmt"
)

const symbols = 16

func init() {
	Register("markov-transition-field", newMTF, "mtf")
}

// transitionMatrix is a row-normalized 16x16 matrix of nibble transitions.
type transitionMatrix [symbols][symbols]float64

// nibbles splits bytes into 4-bit symbols, high nibble first.
func nibbles(data []byte) []uint8 {
	out := make([]uint8, 0, len(data)*2)
	for _, b := range data {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// transitions counts consecutive symbol pairs and normalizes each row to
// probabilities. Rows with no outgoing transition stay zero.
func transitions(seq []uint8) transitionMatrix {
	var m transitionMatrix
	for k := 0; k+1 < len(seq); k++ {
		m[seq[k]][seq[k+1]]++
	}
	for i := range m {
		sum := 0.0
		for _, v := range m[i] {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j := range m[i] {
			m[i][j] /= sum
		}
	}
	return m
}

// grid places transition matrices row-major in a square of cols*cols tiles.
// Missing tiles are zero; extra matrices are ignored.
func grid(tiles []transitionMatrix, cols int) (int, []uint8) {
	side := cols * symbols
	pix := make([]uint8, side*side)
	for idx, m := range tiles {
		if idx >= cols*cols {
			break
		}
		top := (idx / cols) * symbols
		left := (idx % cols) * symbols
		for i := 0; i < symbols; i++ {
			for j := 0; j < symbols; j++ {
				pix[(top+i)*side+left+j] = toPixel(m[i][j])
			}
		}
	}
	return side, pix
}

// MTF renders one Markov transition tile per packet.
type MTF struct {
	cols int
}

func newMTF(opts Options) (model.Encoder, error) {
	if opts.MTFGrid <= 0 {
		return nil, fmt.Errorf("mtf grid must be positive, got %d", opts.MTFGrid)
	}
	return &MTF{cols: opts.MTFGrid}, nil
}

func (m *MTF) Name() string      { return "markov-transition-field" }
func (m *MTF) Extension() string { return "png" }

func (m *MTF) Encode(packets []*model.RawPacket) ([]byte, error) {
	n := len(packets)
	if n > m.cols*m.cols {
		n = m.cols * m.cols
	}
	tiles := make([]transitionMatrix, n)
	for i := 0; i < n; i++ {
		tiles[i] = transitions(nibbles(packets[i].Data))
	}
	side, pix := grid(tiles, m.cols)
	return grayPNG(side, pix)
}
