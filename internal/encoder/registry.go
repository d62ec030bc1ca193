// Package encoder turns completed sessions into artifact bytes. Encoders
// register themselves by name in init and are looked up with New.
package encoder

import (
	"Go2NetVision/internal/model"
	"fmt"
	"sort"
	"strings"

	"github.com/google/gopacket/layers"
)

// Options carries the tunables every encoder factory may read.
type Options struct {
	// TileWidth is the side of the square tile image.
	TileWidth int
	// MTFGrid is the number of 16x16 transition tiles per side.
	MTFGrid int
	// GAFLength is the series length, and image side, of the angular field.
	GAFLength int
	// LinkType is the capture's link type, written into pcap artifacts.
	LinkType layers.LinkType
}

// DefaultOptions returns 64x64 images for every image encoder.
func DefaultOptions() Options {
	return Options{
		TileWidth: 64,
		MTFGrid:   4,
		GAFLength: 64,
		LinkType:  layers.LinkTypeEthernet,
	}
}

// Factory builds an encoder from options.
type Factory func(opts Options) (model.Encoder, error)

var (
	registry = make(map[string]Factory)
	aliases  = make(map[string]string)
)

// Register adds an encoder under name and any aliases.
func Register(name string, factory Factory, alias ...string) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("encoder '%s' already registered", name))
	}
	registry[name] = factory
	for _, a := range alias {
		if _, exists := aliases[a]; exists {
			panic(fmt.Sprintf("encoder alias '%s' already registered", a))
		}
		aliases[a] = name
	}
}

// Resolve maps a name or alias to the canonical encoder name.
func Resolve(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := registry[name]; ok {
		return name, true
	}
	canonical, ok := aliases[name]
	return canonical, ok
}

// New creates the encoder registered under name or alias.
func New(name string, opts Options) (model.Encoder, error) {
	canonical, ok := Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown output format: '%s' (available: %s)", name, strings.Join(Names(), ", "))
	}
	enc, err := registry[canonical](opts)
	if err != nil {
		return nil, fmt.Errorf("error creating encoder '%s': %w", canonical, err)
	}
	return enc, nil
}

// Names lists the canonical encoder names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
