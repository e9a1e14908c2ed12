// Package chanplan manages the uplink channel set of the active band:
// an index-keyed mapping with region-dependent protected entries.
package chanplan

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/pkg/region"
)

var (
	// ErrProtected is returned when removing a default channel of a band
	// that forbids it. Protected entries may still be replaced via Add.
	ErrProtected = errors.New("channel is protected")

	// ErrInvalidChannel is wrapped by all channel validation failures.
	ErrInvalidChannel = errors.New("invalid channel")
)

// Channel is one entry of the plan.
type Channel struct {
	Index     int    `json:"index"`
	Frequency uint32 `json:"frequency"`
	MinDR     uint8  `json:"drMin"`
	MaxDR     uint8  `json:"drMax"`
}

// Plan is the ordered channel mapping for one band.
type Plan struct {
	mu       sync.RWMutex
	band     *region.Parameters
	channels map[int]Channel
}

// New seeds a plan with the band's default channels.
func New(band *region.Parameters) *Plan {
	p := &Plan{
		band:     band,
		channels: make(map[int]Channel, len(band.DefaultChannels)),
	}
	for _, c := range band.DefaultChannels {
		p.channels[c.Index] = Channel{
			Index:     c.Index,
			Frequency: c.Frequency,
			MinDR:     c.MinDR,
			MaxDR:     c.MaxDR,
		}
	}
	return p
}

// Add inserts or replaces the channel at index. Replacing a protected
// index is allowed; that is the documented way to collapse the plan onto
// a single frequency.
func (p *Plan) Add(index int, frequency uint32, drMin, drMax uint8) error {
	if index < 0 || index > p.band.MaxChannelIndex {
		return fmt.Errorf("%w: index %d outside 0-%d",
			ErrInvalidChannel, index, p.band.MaxChannelIndex)
	}
	if !p.band.ValidFrequency(frequency) {
		return fmt.Errorf("%w: frequency %d Hz outside %d-%d",
			ErrInvalidChannel, frequency, p.band.MinFrequency, p.band.MaxFrequency)
	}
	if drMin > drMax {
		return fmt.Errorf("%w: dr_min %d > dr_max %d", ErrInvalidChannel, drMin, drMax)
	}
	if drMax > 7 {
		return fmt.Errorf("%w: dr_max %d outside 0-7", ErrInvalidChannel, drMax)
	}

	p.mu.Lock()
	p.channels[index] = Channel{Index: index, Frequency: frequency, MinDR: drMin, MaxDR: drMax}
	p.mu.Unlock()

	log.Debug().
		Int("index", index).
		Uint32("frequency", frequency).
		Uint8("dr_min", drMin).
		Uint8("dr_max", drMax).
		Msg("channel added")

	return nil
}

// Remove deletes the channel at index. Protected indices of the band
// always fail with ErrProtected and the plan is left unchanged.
func (p *Plan) Remove(index int) error {
	if index < 0 || index > p.band.MaxChannelIndex {
		return fmt.Errorf("%w: index %d outside 0-%d",
			ErrInvalidChannel, index, p.band.MaxChannelIndex)
	}
	if p.band.Protected(index) {
		return fmt.Errorf("%w: index %d on %s", ErrProtected, index, p.band.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[index]; !ok {
		return fmt.Errorf("%w: index %d not present", ErrInvalidChannel, index)
	}
	delete(p.channels, index)
	return nil
}

// Get returns the channel at index.
func (p *Plan) Get(index int) (Channel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.channels[index]
	return c, ok
}

// List returns all channels sorted by index.
func (p *Plan) List() []Channel {
	p.mu.RLock()
	out := make([]Channel, 0, len(p.channels))
	for _, c := range p.channels {
		out = append(out, c)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ForDataRate returns the channels usable at data rate dr.
func (p *Plan) ForDataRate(dr uint8) []Channel {
	var out []Channel
	for _, c := range p.List() {
		if dr >= c.MinDR && dr <= c.MaxDR {
			out = append(out, c)
		}
	}
	return out
}
