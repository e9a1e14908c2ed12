package sigfox

import "fmt"

// MaxPayload is the Sigfox uplink payload limit in bytes.
const MaxPayload = 12

// frame flag bits
const (
	flagOOB       = 1 << 0
	flagSingleBit = 1 << 1
	flagBitValue  = 1 << 2
	flagDownlink  = 1 << 3
)

const framePreamble = 0xB4

// Frame is the uplink unit handed to the transceiver. The real PHY
// scrambling and FEC are out of scope; this is the boundary format the
// simulated network model understands.
type Frame struct {
	ID        [4]byte
	Seq       uint16
	OOB       bool
	SingleBit bool
	BitValue  bool
	Downlink  bool // downlink window requested after this uplink
	Payload   []byte
}

// Marshal encodes the frame.
func (f *Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("sigfox payload too long: %d bytes", len(f.Payload))
	}
	if f.SingleBit && len(f.Payload) > 0 {
		return nil, fmt.Errorf("single-bit frame carries no payload")
	}

	flags := byte(0)
	if f.OOB {
		flags |= flagOOB
	}
	if f.SingleBit {
		flags |= flagSingleBit
	}
	if f.BitValue {
		flags |= flagBitValue
	}
	if f.Downlink {
		flags |= flagDownlink
	}

	out := make([]byte, 0, 9+len(f.Payload))
	out = append(out, framePreamble, flags)
	out = append(out, f.ID[:]...)
	out = append(out, byte(f.Seq>>8), byte(f.Seq))
	out = append(out, byte(len(f.Payload)))
	out = append(out, f.Payload...)
	return out, nil
}

// Unmarshal decodes a frame produced by Marshal.
func (f *Frame) Unmarshal(data []byte) error {
	if len(data) < 9 || data[0] != framePreamble {
		return fmt.Errorf("not a sigfox frame")
	}

	flags := data[1]
	f.OOB = flags&flagOOB != 0
	f.SingleBit = flags&flagSingleBit != 0
	f.BitValue = flags&flagBitValue != 0
	f.Downlink = flags&flagDownlink != 0

	copy(f.ID[:], data[2:6])
	f.Seq = uint16(data[6])<<8 | uint16(data[7])

	n := int(data[8])
	if len(data) != 9+n {
		return fmt.Errorf("sigfox frame length mismatch")
	}
	f.Payload = append([]byte(nil), data[9:]...)
	return nil
}
