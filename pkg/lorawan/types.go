// Package lorawan implements the device-side LoRaWAN 1.0.x wire format:
// join request/accept handling, data frame construction and parsing, and
// the AES-CMAC / frame encryption primitives both depend on.
package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// ParseEUI64 parses a 16-hex-digit string into an EUI64.
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	b, err := hex.DecodeString(s)
	if err != nil {
		return e, fmt.Errorf("parse EUI64: %w", err)
	}
	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length: %d", len(b))
	}
	copy(e[:], b)
	return e, nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// ParseDevAddr parses an 8-hex-digit string into a DevAddr.
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse DevAddr: %w", err)
	}
	if len(b) != 4 {
		return d, fmt.Errorf("invalid DevAddr length: %d", len(b))
	}
	copy(d[:], b)
	return d, nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseAES128Key parses a 32-hex-digit string into an AES128Key.
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse AES128 key: %w", err)
	}
	if len(b) != 16 {
		return k, fmt.Errorf("invalid AES128 key length: %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWAN1_0 Major = 0
)

// PHYPayload represents the physical payload
type PHYPayload struct {
	MHDR       MHDR
	MACPayload []byte
	MIC        [4]byte
}

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// Byte packs the MAC header into its single-byte wire form.
func (h MHDR) Byte() byte {
	return byte(h.MType<<5) | byte(h.Major)
}

// MACPayload represents the MAC payload
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
}

// FHDR represents the frame header
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// FCtrl represents the frame control byte
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	ClassB    bool
	FPending  bool
}

// JoinRequestPayload represents join request
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce [2]byte
}

// JoinAcceptPayload represents join accept
type JoinAcceptPayload struct {
	JoinNonce  [3]byte
	NetID      [3]byte
	DevAddr    DevAddr
	DLSettings DLSettings
	RxDelay    uint8
	CFList     []byte
}

// DLSettings represents downlink settings
type DLSettings struct {
	RX1DROffset uint8
	RX2DataRate uint8
}
