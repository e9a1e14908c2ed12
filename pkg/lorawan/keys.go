package lorawan

import "crypto/aes"

// DeriveSessionKeys10 derives session keys according to LoRaWAN 1.0.x spec
func DeriveSessionKeys10(appKey AES128Key, joinNonce [3]byte, netID [3]byte, devNonce [2]byte) (nwkSKey, appSKey AES128Key, err error) {
	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nwkSKey, appSKey, err
	}

	// NwkSKey = aes128_encrypt(AppKey, 0x01 | AppNonce | NetID | DevNonce | pad16)
	msg := make([]byte, 16)
	msg[0] = 0x01
	copy(msg[1:4], joinNonce[:])
	copy(msg[4:7], netID[:])
	copy(msg[7:9], devNonce[:])
	block.Encrypt(nwkSKey[:], msg)

	// AppSKey = aes128_encrypt(AppKey, 0x02 | AppNonce | NetID | DevNonce | pad16)
	msg[0] = 0x02
	block.Encrypt(appSKey[:], msg)

	return nwkSKey, appSKey, nil
}

// EncryptJoinAccept encrypts a join accept payload+MIC. LoRaWAN uses the AES
// decrypt operation on the network side so the device can use plain encrypt.
func EncryptJoinAccept(key AES128Key, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	if len(payload)%16 != 0 {
		padding := 16 - (len(payload) % 16)
		payload = append(payload, make([]byte, padding)...)
	}

	encrypted := make([]byte, len(payload))
	for i := 0; i < len(payload); i += 16 {
		block.Decrypt(encrypted[i:i+16], payload[i:i+16])
	}

	return encrypted, nil
}

// DecryptJoinAccept reverses EncryptJoinAccept on the device side.
func DecryptJoinAccept(key AES128Key, encrypted []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	decrypted := make([]byte, len(encrypted))
	for i := 0; i < len(encrypted); i += 16 {
		block.Encrypt(decrypted[i:i+16], encrypted[i:i+16])
	}

	return decrypted, nil
}
