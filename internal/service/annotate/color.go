package annotate

import (
	"image/color"
	"math/rand/v2"
	"sync"
)

// ColorMap assigns a random color to each class the first time it is seen
// and returns the same color for that class afterwards.
type ColorMap struct {
	mu     sync.Mutex
	colors map[string]color.RGBA
	rnd    *rand.Rand
}

// NewColorMap uses a randomly seeded source.
func NewColorMap() *ColorMap {
	return NewColorMapWithSource(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewColorMapWithSource makes the assignment reproducible for a given source.
func NewColorMapWithSource(src rand.Source) *ColorMap {
	return &ColorMap{
		colors: make(map[string]color.RGBA),
		rnd:    rand.New(src),
	}
}

// Get returns the color for className, assigning one when absent.
func (m *ColorMap) Get(className string) color.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.colors[className]; ok {
		return c
	}
	c := color.RGBA{
		R: uint8(m.rnd.IntN(256)),
		G: uint8(m.rnd.IntN(256)),
		B: uint8(m.rnd.IntN(256)),
		A: 255,
	}
	m.colors[className] = c
	return c
}

// Len returns how many classes have a color.
func (m *ColorMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.colors)
}
