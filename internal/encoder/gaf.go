package encoder

import (
	"Go2NetVision/internal/model"
	"fmt"
	"math"
)

func init() {
	Register("angular-field", newGAF, "gaf")
}

// GAF renders the Gramian angular summation field of the session's first
// bytes. Each byte b becomes x=b/255, phi=acos(x), and cell (i,j) holds
// cos(phi_i+phi_j), mapped from [-1,1] onto [0,255].
type GAF struct {
	length int
}

func newGAF(opts Options) (model.Encoder, error) {
	if opts.GAFLength <= 0 {
		return nil, fmt.Errorf("gaf length must be positive, got %d", opts.GAFLength)
	}
	return &GAF{length: opts.GAFLength}, nil
}

func (g *GAF) Name() string      { return "angular-field" }
func (g *GAF) Extension() string { return "png" }

func (g *GAF) Encode(packets []*model.RawPacket) ([]byte, error) {
	return grayPNG(g.length, g.Field(packets))
}

// Field returns the length*length pixel values.
func (g *GAF) Field(packets []*model.RawPacket) []uint8 {
	series := concatBytes(packetData(packets), g.length)
	phi := make([]float64, g.length)
	for i, b := range series {
		phi[i] = math.Acos(float64(b) / 255)
	}

	pix := make([]uint8, g.length*g.length)
	for i := 0; i < g.length; i++ {
		for j := 0; j < g.length; j++ {
			pix[i*g.length+j] = toPixel((math.Cos(phi[i]+phi[j]) + 1) / 2)
		}
	}
	return pix
}
