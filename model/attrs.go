package model

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const spawnRange = 100.0

// AttributeSource supplies the randomized participant attributes used
// when a join does not provide them. Injectable so tests can pin
// deterministic values.
type AttributeSource interface {
	Position() Position
	Color() string
}

type randomAttrs struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomAttrs() AttributeSource {
	return &randomAttrs{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (ra *randomAttrs) Position() Position {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return Position{
		X: ra.rng.Float64() * spawnRange,
		Y: ra.rng.Float64() * spawnRange,
	}
}

func (ra *randomAttrs) Color() string {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return fmt.Sprintf("#%06x", ra.rng.Intn(0x1000000))
}
