// Package sigfox implements the Sigfox uplink path and the regional
// duty-cycle regulator for the node. Physical-layer modulation stays
// behind the hal boundary; this layer owns frequencies and timing.
package sigfox

import "github.com/lorawan-server/lpwan-node/internal/radio"

// zoneParams holds the regulatory parameters of one RCZ.
type zoneParams struct {
	UplinkHz   uint32 // default macro-channel uplink
	DownlinkHz uint32
	// Rotation marks zones whose default macro-channel use is limited
	// to bursts of two followed by a cooldown.
	Rotation bool
	// MicroStepHz is the spacing of the micro-channels the regulator
	// walks inside the macro-channel.
	MicroStepHz uint32
}

var zones = map[radio.Zone]zoneParams{
	radio.RCZ1: {UplinkHz: 868130000, DownlinkHz: 869525000},
	radio.RCZ2: {UplinkHz: 902200000, DownlinkHz: 905200000, Rotation: true, MicroStepHz: 25000},
	radio.RCZ3: {UplinkHz: 923200000, DownlinkHz: 922200000},
	radio.RCZ4: {UplinkHz: 920800000, DownlinkHz: 922300000, Rotation: true, MicroStepHz: 25000},
}

// zoneFor returns the parameters of z, defaulting to RCZ1.
func zoneFor(z radio.Zone) zoneParams {
	if p, ok := zones[z]; ok {
		return p
	}
	return zones[radio.RCZ1]
}
