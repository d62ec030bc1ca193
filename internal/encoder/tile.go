package encoder

import (
	"Go2NetVision/internal/model"
	"fmt"
)

func init() {
	Register("tile", newTile)
}

// Tile lays the session's bytes out row by row in a square grayscale image.
// Short sessions are zero padded and long ones truncated; nothing is scaled.
type Tile struct {
	width int
}

func newTile(opts Options) (model.Encoder, error) {
	if opts.TileWidth <= 0 {
		return nil, fmt.Errorf("tile width must be positive, got %d", opts.TileWidth)
	}
	return &Tile{width: opts.TileWidth}, nil
}

func (t *Tile) Name() string      { return "tile" }
func (t *Tile) Extension() string { return "png" }

func (t *Tile) Encode(packets []*model.RawPacket) ([]byte, error) {
	return grayPNG(t.width, t.Pixels(packets))
}

// Pixels returns exactly width*width bytes.
func (t *Tile) Pixels(packets []*model.RawPacket) []byte {
	return concatBytes(packetData(packets), t.width*t.width)
}

func packetData(packets []*model.RawPacket) [][]byte {
	data := make([][]byte, len(packets))
	for i, p := range packets {
		data[i] = p.Data
	}
	return data
}
