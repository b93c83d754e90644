package sim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenIDGenerator mints token identifiers. Production runs use UUIDv7;
// seeded and replayed runs use the sequential generator so token IDs are
// reproducible across runs.
type TokenIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 token IDs. Stateless and
// safe for concurrent use.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator numbers tokens tok-000001, tok-000002, ... in mint
// order. Two runs of the same scenario with the same seed produce the same
// token IDs, which is what makes replay comparison byte-exact.
type SequentialGenerator struct {
	mu sync.Mutex
	n  uint64
}

func NewSequentialGenerator() *SequentialGenerator {
	return &SequentialGenerator{}
}

func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("tok-%06d", g.n)
}
