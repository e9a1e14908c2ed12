// Package region holds the regional band parameters the node needs for
// validation and channel planning. It is deliberately small: two bands,
// the fields the driver consults, nothing more.
package region

import "fmt"

// Band identifies a regional frequency plan.
type Band string

const (
	EU868 Band = "EU868"
	US915 Band = "US915"
)

// Channel is one entry of a band's default channel set.
type Channel struct {
	Index     int
	Frequency uint32
	MinDR     uint8
	MaxDR     uint8
}

// DataRate maps a LoRa data rate index to its modulation parameters.
type DataRate struct {
	SpreadFactor uint8
	Bandwidth    int // kHz
}

// Parameters describes one regional band.
type Parameters struct {
	Name            Band
	MinFrequency    uint32 // Hz, inclusive
	MaxFrequency    uint32 // Hz, inclusive
	MinTXPower      int    // dBm
	MaxTXPower      int    // dBm
	MaxChannelIndex int
	// Default channel indices that may be replaced but never removed.
	ProtectedChannels []int
	DefaultChannels   []Channel
	DataRates         []DataRate
	RX1DelaySeconds   int
	RX2Frequency      uint32
	RX2DataRate       uint8
}

var eu868 = Parameters{
	Name:            EU868,
	MinFrequency:    863000000,
	MaxFrequency:    870000000,
	MinTXPower:      2,
	MaxTXPower:      14,
	MaxChannelIndex: 15,
	ProtectedChannels: []int{0, 1, 2},
	DefaultChannels: []Channel{
		{Index: 0, Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Index: 1, Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Index: 2, Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
		{SpreadFactor: 7, Bandwidth: 250},  // DR6
	},
	RX1DelaySeconds: 1,
	RX2Frequency:    869525000,
	RX2DataRate:     0,
}

var us915 = Parameters{
	Name:            US915,
	MinFrequency:    902000000,
	MaxFrequency:    928000000,
	MinTXPower:      5,
	MaxTXPower:      20,
	MaxChannelIndex: 71,
	DefaultChannels: us915UplinkChannels(),
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
	},
	RX1DelaySeconds: 1,
	RX2Frequency:    923300000,
	RX2DataRate:     8,
}

// us915UplinkChannels generates the 64 narrow 125 kHz uplink channels plus
// the 8 wide 500 kHz ones.
func us915UplinkChannels() []Channel {
	channels := make([]Channel, 0, 72)
	for i := 0; i < 64; i++ {
		channels = append(channels, Channel{
			Index:     i,
			Frequency: 902300000 + uint32(i)*200000,
			MinDR:     0,
			MaxDR:     3,
		})
	}
	for i := 0; i < 8; i++ {
		channels = append(channels, Channel{
			Index:     64 + i,
			Frequency: 903000000 + uint32(i)*1600000,
			MinDR:     4,
			MaxDR:     4,
		})
	}
	return channels
}

// Get returns the parameters for a band.
func Get(band Band) (*Parameters, error) {
	switch band {
	case EU868:
		p := eu868
		return &p, nil
	case US915:
		p := us915
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown band %q", band)
	}
}

// ValidFrequency reports whether f lies inside the band's regulatory range.
func (p *Parameters) ValidFrequency(f uint32) bool {
	return f >= p.MinFrequency && f <= p.MaxFrequency
}

// ValidTXPower reports whether pw is transmittable in this band.
func (p *Parameters) ValidTXPower(pw int) bool {
	return pw >= p.MinTXPower && pw <= p.MaxTXPower
}

// ValidDataRate reports whether dr exists in this band.
func (p *Parameters) ValidDataRate(dr uint8) bool {
	return int(dr) < len(p.DataRates)
}

// MaxDataRate returns the highest data rate index of the band.
func (p *Parameters) MaxDataRate() uint8 {
	return uint8(len(p.DataRates) - 1)
}

// Protected reports whether channel index idx may never be removed.
func (p *Parameters) Protected(idx int) bool {
	for _, pi := range p.ProtectedChannels {
		if pi == idx {
			return true
		}
	}
	return false
}
