package lorawan

import "fmt"

// MACCommand represents a MAC command
type MACCommand struct {
	CID     byte
	Payload []byte
}

// MAC command identifiers
const (
	LinkCheckReq     byte = 0x02
	LinkCheckAns     byte = 0x02
	LinkADRReq       byte = 0x03
	LinkADRAns       byte = 0x03
	DutyCycleReq     byte = 0x04
	DutyCycleAns     byte = 0x04
	RXParamSetupReq  byte = 0x05
	RXParamSetupAns  byte = 0x05
	DevStatusReq     byte = 0x06
	DevStatusAns     byte = 0x06
	NewChannelReq    byte = 0x07
	NewChannelAns    byte = 0x07
	RXTimingSetupReq byte = 0x08
	RXTimingSetupAns byte = 0x08
)

// ParseMACCommands parses MAC commands from bytes
func ParseMACCommands(uplink bool, data []byte) ([]MACCommand, error) {
	var commands []MACCommand

	for i := 0; i < len(data); {
		cmd := MACCommand{CID: data[i]}
		i++

		payloadLen := macCommandPayloadLength(uplink, cmd.CID)
		if payloadLen < 0 {
			return nil, fmt.Errorf("unknown MAC command: %02x", cmd.CID)
		}
		if i+payloadLen > len(data) {
			return nil, fmt.Errorf("insufficient data for MAC command %02x", cmd.CID)
		}

		cmd.Payload = data[i : i+payloadLen]
		i += payloadLen
		commands = append(commands, cmd)
	}

	return commands, nil
}

// macCommandPayloadLength returns the payload length for a MAC command
func macCommandPayloadLength(uplink bool, cid byte) int {
	if uplink {
		switch cid {
		case LinkCheckReq:
			return 0
		case LinkADRAns:
			return 1
		case DutyCycleAns:
			return 0
		case RXParamSetupAns:
			return 1
		case DevStatusAns:
			return 2
		case NewChannelAns:
			return 1
		case RXTimingSetupAns:
			return 0
		default:
			return -1
		}
	}
	switch cid {
	case LinkCheckAns:
		return 2
	case LinkADRReq:
		return 4
	case DutyCycleReq:
		return 1
	case RXParamSetupReq:
		return 4
	case DevStatusReq:
		return 0
	case NewChannelReq:
		return 5
	case RXTimingSetupReq:
		return 1
	default:
		return -1
	}
}

// EncodeMACCommands encodes MAC commands to bytes
func EncodeMACCommands(commands []MACCommand) []byte {
	var data []byte
	for _, cmd := range commands {
		data = append(data, cmd.CID)
		data = append(data, cmd.Payload...)
	}
	return data
}

// NewLinkADRReq builds a LinkADRReq downlink command for the given data rate.
// TX power and channel mask fields carry the "keep current" values.
func NewLinkADRReq(dataRate uint8) MACCommand {
	return MACCommand{
		CID:     LinkADRReq,
		Payload: []byte{(dataRate << 4) | 0x0F, 0xFF, 0xFF, 0x00},
	}
}

// LinkADRReqDataRate extracts the requested data rate from a LinkADRReq.
func LinkADRReqDataRate(cmd MACCommand) (uint8, error) {
	if cmd.CID != LinkADRReq || len(cmd.Payload) != 4 {
		return 0, fmt.Errorf("not a LinkADRReq")
	}
	return cmd.Payload[0] >> 4, nil
}

// NewDevStatusAns builds the uplink answer to DevStatusReq.
func NewDevStatusAns(battery uint8, margin int8) MACCommand {
	return MACCommand{
		CID:     DevStatusAns,
		Payload: []byte{battery, byte(margin) & 0x3F},
	}
}
