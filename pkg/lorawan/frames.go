package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// Marshal marshals MACPayload
func (m *MACPayload) Marshal(isUplink bool) ([]byte, error) {
	if len(m.FHDR.FOpts) > 15 {
		return nil, fmt.Errorf("FOpts too long: %d", len(m.FHDR.FOpts))
	}

	var data []byte
	data = append(data, m.FHDR.DevAddr[:]...)

	fctrl := byte(0)
	if m.FHDR.FCtrl.ADR {
		fctrl |= 0x80
	}
	if isUplink {
		if m.FHDR.FCtrl.ADRACKReq {
			fctrl |= 0x40
		}
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.ClassB {
			fctrl |= 0x10
		}
	} else {
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.FPending {
			fctrl |= 0x10
		}
	}
	fctrl |= byte(len(m.FHDR.FOpts)) & 0x0F
	data = append(data, fctrl)

	data = append(data, byte(m.FHDR.FCnt), byte(m.FHDR.FCnt>>8))
	data = append(data, m.FHDR.FOpts...)

	if m.FPort != nil {
		data = append(data, *m.FPort)
		data = append(data, m.FRMPayload...)
	}

	return data, nil
}

// Unmarshal unmarshals MACPayload
func (m *MACPayload) Unmarshal(data []byte, isUplink bool) error {
	if len(data) < 7 {
		return fmt.Errorf("MACPayload too short: %d bytes", len(data))
	}

	pos := 0
	copy(m.FHDR.DevAddr[:], data[pos:pos+4])
	pos += 4

	fctrl := data[pos]
	m.FHDR.FCtrl.ADR = (fctrl & 0x80) != 0
	if isUplink {
		m.FHDR.FCtrl.ADRACKReq = (fctrl & 0x40) != 0
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.ClassB = (fctrl & 0x10) != 0
	} else {
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.FPending = (fctrl & 0x10) != 0
	}
	foptsLen := int(fctrl & 0x0F)
	pos++

	m.FHDR.FCnt = uint16(data[pos]) | uint16(data[pos+1])<<8
	pos += 2

	if foptsLen > 0 {
		if pos+foptsLen > len(data) {
			return fmt.Errorf("invalid FOpts length")
		}
		m.FHDR.FOpts = data[pos : pos+foptsLen]
		pos += foptsLen
	}

	if pos < len(data) {
		fport := data[pos]
		m.FPort = &fport
		pos++
		if pos < len(data) {
			m.FRMPayload = data[pos:]
		}
	}

	return nil
}

// EncryptFRMPayload encrypts/decrypts FRM payload
func EncryptFRMPayload(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}

	k := (len(payload) + 15) / 16

	ai := make([]byte, 16)
	ai[0] = 0x01
	if !uplink {
		ai[5] = 0x01
	}
	copy(ai[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(ai[10:14], fCnt)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	s := make([]byte, 16*k)
	for i := 0; i < k; i++ {
		ai[15] = byte(i + 1)
		block.Encrypt(s[i*16:(i+1)*16], ai)
	}

	encrypted := make([]byte, len(payload))
	for i := range payload {
		encrypted[i] = payload[i] ^ s[i]
	}

	return encrypted, nil
}

// dataMIC computes the data-frame MIC over the B0 block plus the frame.
func dataMIC(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, mhdr byte, macPayload []byte) ([4]byte, error) {
	b0 := make([]byte, 16)
	b0[0] = 0x49
	if !uplink {
		b0[5] = 0x01
	}
	copy(b0[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fCnt)
	b0[15] = byte(1 + len(macPayload))

	micPayload := make([]byte, 0, len(b0)+1+len(macPayload))
	micPayload = append(micPayload, b0...)
	micPayload = append(micPayload, mhdr)
	micPayload = append(micPayload, macPayload...)

	return CalculateMIC(key[:], micPayload)
}

// UnmarshalBinary unmarshals PHYPayload from binary
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("PHYPayload too short: %d bytes", len(data))
	}

	p.MHDR.MType = MType((data[0] >> 5) & 0x07)
	p.MHDR.Major = Major(data[0] & 0x03)
	p.MACPayload = data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])

	return nil
}

// MarshalBinary marshals PHYPayload to binary
func (p *PHYPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+len(p.MACPayload)+4)
	data = append(data, p.MHDR.Byte())
	data = append(data, p.MACPayload...)
	data = append(data, p.MIC[:]...)
	return data, nil
}

// reverse8 returns the little-endian wire form of an EUI64.
func reverse8(e EUI64) []byte {
	out := make([]byte, 8)
	for i := range e {
		out[i] = e[7-i]
	}
	return out
}

// BuildJoinRequest builds a complete join request PHY payload.
// MIC = aes128_cmac(AppKey, MHDR | JoinEUI | DevEUI | DevNonce)
func BuildJoinRequest(joinEUI, devEUI EUI64, devNonce [2]byte, appKey AES128Key) ([]byte, error) {
	var mac []byte
	mac = append(mac, reverse8(joinEUI)...)
	mac = append(mac, reverse8(devEUI)...)
	mac = append(mac, devNonce[1], devNonce[0])

	p := PHYPayload{
		MHDR:       MHDR{MType: JoinRequest, Major: LoRaWAN1_0},
		MACPayload: mac,
	}

	mic, err := CalculateMIC(appKey[:], append([]byte{p.MHDR.Byte()}, mac...))
	if err != nil {
		return nil, fmt.Errorf("join request MIC: %w", err)
	}
	p.MIC = mic

	return p.MarshalBinary()
}

// ParseJoinRequest parses and authenticates a join request PHY payload.
func ParseJoinRequest(data []byte, appKey AES128Key) (*JoinRequestPayload, error) {
	var p PHYPayload
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if p.MHDR.MType != JoinRequest {
		return nil, fmt.Errorf("not a join request: mtype %d", p.MHDR.MType)
	}
	if len(p.MACPayload) != 18 {
		return nil, fmt.Errorf("invalid join request length: %d", len(p.MACPayload))
	}

	mic, err := CalculateMIC(appKey[:], append([]byte{p.MHDR.Byte()}, p.MACPayload...))
	if err != nil {
		return nil, err
	}
	if mic != p.MIC {
		return nil, fmt.Errorf("join request MIC mismatch")
	}

	var jr JoinRequestPayload
	for i := 0; i < 8; i++ {
		jr.JoinEUI[i] = p.MACPayload[7-i]
		jr.DevEUI[i] = p.MACPayload[15-i]
	}
	jr.DevNonce[0] = p.MACPayload[17]
	jr.DevNonce[1] = p.MACPayload[16]

	return &jr, nil
}

// BuildJoinAccept builds an encrypted join accept PHY payload (network side).
func BuildJoinAccept(appKey AES128Key, ja JoinAcceptPayload) ([]byte, error) {
	size := 12 + len(ja.CFList)
	plain := make([]byte, size)
	copy(plain[0:3], ja.JoinNonce[:])
	copy(plain[3:6], ja.NetID[:])
	copy(plain[6:10], ja.DevAddr[:])
	plain[10] = (ja.DLSettings.RX1DROffset << 4) | (ja.DLSettings.RX2DataRate & 0x0F)
	plain[11] = ja.RxDelay
	copy(plain[12:], ja.CFList)

	mhdr := MHDR{MType: JoinAccept, Major: LoRaWAN1_0}
	mic, err := CalculateMIC(appKey[:], append([]byte{mhdr.Byte()}, plain...))
	if err != nil {
		return nil, fmt.Errorf("join accept MIC: %w", err)
	}

	encrypted, err := EncryptJoinAccept(appKey, append(plain, mic[:]...))
	if err != nil {
		return nil, fmt.Errorf("encrypt join accept: %w", err)
	}

	return append([]byte{mhdr.Byte()}, encrypted...), nil
}

// DecodeJoinAccept decrypts, authenticates and parses a join accept PHY
// payload on the device side.
func DecodeJoinAccept(appKey AES128Key, data []byte) (*JoinAcceptPayload, error) {
	if len(data) < 17 || (len(data)-1)%16 != 0 {
		return nil, fmt.Errorf("invalid join accept length: %d", len(data))
	}

	mhdr := data[0]
	if MType((mhdr>>5)&0x07) != JoinAccept {
		return nil, fmt.Errorf("not a join accept: mhdr %02x", mhdr)
	}

	plain, err := DecryptJoinAccept(appKey, data[1:])
	if err != nil {
		return nil, fmt.Errorf("decrypt join accept: %w", err)
	}

	body := plain[:len(plain)-4]
	var rxMIC [4]byte
	copy(rxMIC[:], plain[len(plain)-4:])

	mic, err := CalculateMIC(appKey[:], append([]byte{mhdr}, body...))
	if err != nil {
		return nil, err
	}
	if mic != rxMIC {
		return nil, fmt.Errorf("join accept MIC mismatch")
	}

	if len(body) < 12 {
		return nil, fmt.Errorf("join accept body too short: %d", len(body))
	}

	var ja JoinAcceptPayload
	copy(ja.JoinNonce[:], body[0:3])
	copy(ja.NetID[:], body[3:6])
	copy(ja.DevAddr[:], body[6:10])
	ja.DLSettings.RX1DROffset = (body[10] >> 4) & 0x07
	ja.DLSettings.RX2DataRate = body[10] & 0x0F
	ja.RxDelay = body[11]
	if len(body) > 12 {
		ja.CFList = append([]byte(nil), body[12:]...)
	}

	return &ja, nil
}

// DataFrame is the decoded form of a data uplink or downlink.
type DataFrame struct {
	Confirmed bool
	DevAddr   DevAddr
	FCnt      uint16
	FCtrl     FCtrl
	FOpts     []byte
	FPort     *uint8
	Payload   []byte // decrypted FRMPayload
}

// BuildDataFrame builds a complete encrypted and authenticated data frame.
// FRMPayload on port 0 is encrypted with NwkSKey, all other ports with
// AppSKey, per LoRaWAN 1.0.3 §4.3.3.
func BuildDataFrame(f DataFrame, uplink bool, nwkSKey, appSKey AES128Key) ([]byte, error) {
	mtype := UnconfirmedDataUp
	if uplink && f.Confirmed {
		mtype = ConfirmedDataUp
	} else if !uplink {
		mtype = UnconfirmedDataDown
		if f.Confirmed {
			mtype = ConfirmedDataDown
		}
	}

	mac := MACPayload{
		FHDR: FHDR{
			DevAddr: f.DevAddr,
			FCtrl:   f.FCtrl,
			FCnt:    f.FCnt,
			FOpts:   f.FOpts,
		},
		FPort: f.FPort,
	}

	if f.FPort != nil {
		key := appSKey
		if *f.FPort == 0 {
			key = nwkSKey
		}
		enc, err := EncryptFRMPayload(key, f.DevAddr, uint32(f.FCnt), uplink, f.Payload)
		if err != nil {
			return nil, fmt.Errorf("encrypt FRMPayload: %w", err)
		}
		mac.FRMPayload = enc
	}

	macBytes, err := mac.Marshal(uplink)
	if err != nil {
		return nil, err
	}

	p := PHYPayload{
		MHDR:       MHDR{MType: mtype, Major: LoRaWAN1_0},
		MACPayload: macBytes,
	}

	mic, err := dataMIC(nwkSKey, f.DevAddr, uint32(f.FCnt), uplink, p.MHDR.Byte(), macBytes)
	if err != nil {
		return nil, fmt.Errorf("data MIC: %w", err)
	}
	p.MIC = mic

	return p.MarshalBinary()
}

// ParseDataFrame authenticates and decrypts a data frame for the given
// device address. Frames addressed elsewhere fail with an error.
func ParseDataFrame(data []byte, uplink bool, devAddr DevAddr, nwkSKey, appSKey AES128Key) (*DataFrame, error) {
	var p PHYPayload
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	switch p.MHDR.MType {
	case UnconfirmedDataUp, ConfirmedDataUp:
		if !uplink {
			return nil, fmt.Errorf("unexpected uplink mtype %d", p.MHDR.MType)
		}
	case UnconfirmedDataDown, ConfirmedDataDown:
		if uplink {
			return nil, fmt.Errorf("unexpected downlink mtype %d", p.MHDR.MType)
		}
	default:
		return nil, fmt.Errorf("not a data frame: mtype %d", p.MHDR.MType)
	}

	var mac MACPayload
	if err := mac.Unmarshal(p.MACPayload, uplink); err != nil {
		return nil, err
	}

	if mac.FHDR.DevAddr != devAddr {
		return nil, fmt.Errorf("frame for %s, not %s", mac.FHDR.DevAddr, devAddr)
	}

	mic, err := dataMIC(nwkSKey, devAddr, uint32(mac.FHDR.FCnt), uplink, p.MHDR.Byte(), p.MACPayload)
	if err != nil {
		return nil, err
	}
	if mic != p.MIC {
		return nil, fmt.Errorf("data MIC mismatch")
	}

	f := DataFrame{
		Confirmed: p.MHDR.MType == ConfirmedDataUp || p.MHDR.MType == ConfirmedDataDown,
		DevAddr:   mac.FHDR.DevAddr,
		FCnt:      mac.FHDR.FCnt,
		FCtrl:     mac.FHDR.FCtrl,
		FOpts:     mac.FHDR.FOpts,
		FPort:     mac.FPort,
	}

	if mac.FPort != nil {
		key := appSKey
		if *mac.FPort == 0 {
			key = nwkSKey
		}
		plain, err := EncryptFRMPayload(key, devAddr, uint32(mac.FHDR.FCnt), uplink, mac.FRMPayload)
		if err != nil {
			return nil, fmt.Errorf("decrypt FRMPayload: %w", err)
		}
		f.Payload = plain
	}

	return &f, nil
}
