package encoder

import (
	"Go2NetVision/internal/model"
	"fmt"
)

func init() {
	Register("hybrid-transition-field", newHybrid, "mtf-hybrid")
}

// Hybrid is the MTF grid with its first tile replaced by the transition
// matrix of the whole session. Packets fill the remaining tiles in order.
type Hybrid struct {
	cols int
}

func newHybrid(opts Options) (model.Encoder, error) {
	if opts.MTFGrid < 2 {
		return nil, fmt.Errorf("hybrid grid needs at least 2 columns, got %d", opts.MTFGrid)
	}
	return &Hybrid{cols: opts.MTFGrid}, nil
}

func (h *Hybrid) Name() string      { return "hybrid-transition-field" }
func (h *Hybrid) Extension() string { return "png" }

func (h *Hybrid) Encode(packets []*model.RawPacket) ([]byte, error) {
	var all []uint8
	for _, p := range packets {
		all = append(all, nibbles(p.Data)...)
	}
	tiles := []transitionMatrix{transitions(all)}
	for _, p := range packets {
		if len(tiles) == h.cols*h.cols {
			break
		}
		tiles = append(tiles, transitions(nibbles(p.Data)))
	}
	side, pix := grid(tiles, h.cols)
	return grayPNG(side, pix)
}
