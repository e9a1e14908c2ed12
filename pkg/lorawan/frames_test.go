package lorawan

import (
	"bytes"
	"testing"
)

var (
	testAppKey  = AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	testDevEUI  = EUI64{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}
	testJoinEUI = EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01}
	testDevAddr = DevAddr{0x26, 0x01, 0x14, 0x9f}
)

func TestJoinRequestRoundtrip(t *testing.T) {
	devNonce := [2]byte{0xab, 0xcd}

	data, err := BuildJoinRequest(testJoinEUI, testDevEUI, devNonce, testAppKey)
	if err != nil {
		t.Fatalf("BuildJoinRequest: %v", err)
	}
	if len(data) != 23 {
		t.Fatalf("join request length = %d, want 23", len(data))
	}

	jr, err := ParseJoinRequest(data, testAppKey)
	if err != nil {
		t.Fatalf("ParseJoinRequest: %v", err)
	}
	if jr.JoinEUI != testJoinEUI {
		t.Errorf("JoinEUI = %s, want %s", jr.JoinEUI, testJoinEUI)
	}
	if jr.DevEUI != testDevEUI {
		t.Errorf("DevEUI = %s, want %s", jr.DevEUI, testDevEUI)
	}
	if jr.DevNonce != devNonce {
		t.Errorf("DevNonce = %x, want %x", jr.DevNonce, devNonce)
	}

	// A corrupted MIC must be rejected.
	data[len(data)-1] ^= 0xff
	if _, err := ParseJoinRequest(data, testAppKey); err == nil {
		t.Error("ParseJoinRequest accepted a corrupted MIC")
	}
}

func TestJoinAcceptRoundtrip(t *testing.T) {
	ja := JoinAcceptPayload{
		JoinNonce: [3]byte{0x01, 0x02, 0x03},
		NetID:     [3]byte{0x00, 0x00, 0x13},
		DevAddr:   testDevAddr,
		DLSettings: DLSettings{
			RX1DROffset: 1,
			RX2DataRate: 8,
		},
		RxDelay: 1,
	}

	data, err := BuildJoinAccept(testAppKey, ja)
	if err != nil {
		t.Fatalf("BuildJoinAccept: %v", err)
	}

	got, err := DecodeJoinAccept(testAppKey, data)
	if err != nil {
		t.Fatalf("DecodeJoinAccept: %v", err)
	}
	if got.JoinNonce != ja.JoinNonce {
		t.Errorf("JoinNonce = %x, want %x", got.JoinNonce, ja.JoinNonce)
	}
	if got.DevAddr != ja.DevAddr {
		t.Errorf("DevAddr = %s, want %s", got.DevAddr, ja.DevAddr)
	}
	if got.DLSettings.RX1DROffset != 1 || got.DLSettings.RX2DataRate != 8 {
		t.Errorf("DLSettings = %+v", got.DLSettings)
	}
	if got.RxDelay != 1 {
		t.Errorf("RxDelay = %d, want 1", got.RxDelay)
	}

	// Decoding with the wrong root key must fail the MIC check.
	wrongKey := testAppKey
	wrongKey[0] ^= 0xff
	if _, err := DecodeJoinAccept(wrongKey, data); err == nil {
		t.Error("DecodeJoinAccept accepted the wrong key")
	}
}

func TestDecodeJoinAcceptLength(t *testing.T) {
	for _, n := range []int{0, 5, 16, 20} {
		if _, err := DecodeJoinAccept(testAppKey, make([]byte, n)); err == nil {
			t.Errorf("DecodeJoinAccept accepted %d bytes", n)
		}
	}
}

func TestSessionKeysDifferPerNonce(t *testing.T) {
	netID := [3]byte{0x00, 0x00, 0x13}
	nwk1, app1, err := DeriveSessionKeys10(testAppKey, [3]byte{1, 2, 3}, netID, [2]byte{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	nwk2, app2, err := DeriveSessionKeys10(testAppKey, [3]byte{1, 2, 3}, netID, [2]byte{0, 2})
	if err != nil {
		t.Fatal(err)
	}
	if nwk1 == nwk2 || app1 == app2 {
		t.Error("session keys did not change with the device nonce")
	}
	if nwk1 == app1 {
		t.Error("network and application session keys are equal")
	}
}

func TestDataFrameRoundtrip(t *testing.T) {
	nwkSKey := AES128Key{1: 0x01}
	appSKey := AES128Key{1: 0x02}

	tests := []struct {
		name      string
		confirmed bool
		uplink    bool
		fport     uint8
		payload   []byte
	}{
		{name: "unconfirmed uplink", uplink: true, fport: 2, payload: []byte("hello")},
		{name: "confirmed uplink", confirmed: true, uplink: true, fport: 10, payload: []byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "downlink", uplink: false, fport: 1, payload: []byte("ack payload")},
		{name: "mac on port 0", uplink: true, fport: 0, payload: []byte{0x06}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fport := tt.fport
			frame := DataFrame{
				Confirmed: tt.confirmed,
				DevAddr:   testDevAddr,
				FCnt:      42,
				FPort:     &fport,
				Payload:   tt.payload,
			}

			data, err := BuildDataFrame(frame, tt.uplink, nwkSKey, appSKey)
			if err != nil {
				t.Fatalf("BuildDataFrame: %v", err)
			}

			got, err := ParseDataFrame(data, tt.uplink, testDevAddr, nwkSKey, appSKey)
			if err != nil {
				t.Fatalf("ParseDataFrame: %v", err)
			}
			if got.Confirmed != tt.confirmed {
				t.Errorf("Confirmed = %v, want %v", got.Confirmed, tt.confirmed)
			}
			if got.FCnt != 42 {
				t.Errorf("FCnt = %d, want 42", got.FCnt)
			}
			if got.FPort == nil || *got.FPort != tt.fport {
				t.Errorf("FPort = %v, want %d", got.FPort, tt.fport)
			}
			if !bytes.Equal(got.Payload, tt.payload) {
				t.Errorf("Payload = %x, want %x", got.Payload, tt.payload)
			}
		})
	}
}

func TestDataFrameRejections(t *testing.T) {
	nwkSKey := AES128Key{1: 0x01}
	appSKey := AES128Key{1: 0x02}
	fport := uint8(2)

	data, err := BuildDataFrame(DataFrame{
		DevAddr: testDevAddr,
		FCnt:    7,
		FPort:   &fport,
		Payload: []byte("payload"),
	}, true, nwkSKey, appSKey)
	if err != nil {
		t.Fatal(err)
	}

	// Wrong address.
	other := DevAddr{0x01, 0x02, 0x03, 0x04}
	if _, err := ParseDataFrame(data, true, other, nwkSKey, appSKey); err == nil {
		t.Error("accepted a frame for another device")
	}

	// Wrong direction.
	if _, err := ParseDataFrame(data, false, testDevAddr, nwkSKey, appSKey); err == nil {
		t.Error("accepted an uplink as a downlink")
	}

	// Corrupted MIC.
	data[len(data)-2] ^= 0xff
	if _, err := ParseDataFrame(data, true, testDevAddr, nwkSKey, appSKey); err == nil {
		t.Error("accepted a corrupted MIC")
	}
}

func TestEncryptFRMPayloadInvolution(t *testing.T) {
	key := AES128Key{3: 0x42}
	payload := []byte("a payload longer than one AES block to cover the A2 counter")

	enc, err := EncryptFRMPayload(key, testDevAddr, 99, true, payload)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, payload) {
		t.Fatal("payload was not encrypted")
	}
	dec, err := EncryptFRMPayload(key, testDevAddr, 99, true, enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, payload) {
		t.Errorf("roundtrip = %x, want %x", dec, payload)
	}
}

func TestMACCommands(t *testing.T) {
	cmd := NewLinkADRReq(5)
	dr, err := LinkADRReqDataRate(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if dr != 5 {
		t.Errorf("data rate = %d, want 5", dr)
	}

	encoded := EncodeMACCommands([]MACCommand{cmd, {CID: DevStatusReq}})
	cmds, err := ParseMACCommands(false, encoded)
	if err != nil {
		t.Fatalf("ParseMACCommands: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("parsed %d commands, want 2", len(cmds))
	}
	if cmds[0].CID != LinkADRReq || cmds[1].CID != DevStatusReq {
		t.Errorf("CIDs = %02x %02x", cmds[0].CID, cmds[1].CID)
	}

	ans := NewDevStatusAns(100, -12)
	if len(ans.Payload) != 2 || ans.Payload[0] != 100 {
		t.Errorf("DevStatusAns payload = %x", ans.Payload)
	}

	if _, err := ParseMACCommands(true, []byte{0xAA}); err == nil {
		t.Error("accepted an unknown MAC command")
	}
}
