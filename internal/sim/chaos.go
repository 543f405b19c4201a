package sim

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"
)

// ChaosConfig controls fault injection on the simulated market data stream.
type ChaosConfig struct {
	Seed          int64   `json:"seed"`
	DropRate      float64 `json:"dropRate"`
	DuplicateRate float64 `json:"duplicateRate"`
	ReorderWindow int     `json:"reorderWindow"`
}

// Enabled reports whether any fault is configured.
func (c ChaosConfig) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.New("reorderWindow must be >= 0")
	}
	return nil
}

// Chaos drops, duplicates and reorders frames.
type Chaos struct {
	cfg     ChaosConfig
	rng     *rand.Rand
	pending [][]byte
}

// NewChaos creates a chaos engine with validation.
func NewChaos(cfg ChaosConfig) (*Chaos, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process applies chaos to a single frame and returns the frames to deliver.
func (c *Chaos) Process(frame []byte) [][]byte {
	if c == nil {
		return [][]byte{frame}
	}
	if c.shouldDrop() {
		return nil
	}
	if c.cfg.ReorderWindow <= 1 {
		return c.applyDuplicate(frame)
	}
	c.pending = append(c.pending, frame)
	if len(c.pending) < c.cfg.ReorderWindow {
		return nil
	}
	idx := c.rng.Intn(len(c.pending))
	out := c.pending[idx]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	return c.applyDuplicate(out)
}

// Flush returns any buffered frames in random order.
func (c *Chaos) Flush() [][]byte {
	if c == nil || len(c.pending) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(c.pending))
	for len(c.pending) > 0 {
		idx := c.rng.Intn(len(c.pending))
		frame := c.pending[idx]
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
		out = append(out, c.applyDuplicate(frame)...)
	}
	return out
}

// Discard forgets buffered frames, used when the stream is resynced.
func (c *Chaos) Discard() {
	if c != nil {
		c.pending = c.pending[:0]
	}
}

func (c *Chaos) shouldDrop() bool {
	return c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate
}

func (c *Chaos) applyDuplicate(frame []byte) [][]byte {
	out := [][]byte{frame}
	if c.cfg.DuplicateRate > 0 && c.rng.Float64() < c.cfg.DuplicateRate {
		out = append(out, frame)
	}
	return out
}
