package testutil

import (
	"fmt"
	"sync"
)

// SequentialTokenGenerator yields "<prefix>-1", "<prefix>-2", ... so that lock
// tokens are predictable in assertions. It satisfies lock.TokenGenerator.
type SequentialTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokenGenerator creates a generator. An empty prefix means "tok".
func NewSequentialTokenGenerator(prefix string) *SequentialTokenGenerator {
	if prefix == "" {
		prefix = "tok"
	}
	return &SequentialTokenGenerator{prefix: prefix}
}

// Generate returns the next token ID.
func (g *SequentialTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
