package lorawan

import (
	"encoding/hex"
	"testing"
)

// Vectors from RFC 4493 section 4.
func TestCalculateMIC(t *testing.T) {
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")

	tests := []struct {
		name string
		msg  string
		want string // first 4 bytes of the CMAC
	}{
		{name: "empty", msg: "", want: "bb1d6929"},
		{name: "one block", msg: "6bc1bee22e409f96e93d7e117393172a", want: "070a16b4"},
		{
			name: "40 bytes",
			msg: "6bc1bee22e409f96e93d7e117393172a" +
				"ae2d8a571e03ac9c9eb76fac45af8e51" +
				"30c81c46a35ce411",
			want: "dfa66747",
		},
		{
			name: "four blocks",
			msg: "6bc1bee22e409f96e93d7e117393172a" +
				"ae2d8a571e03ac9c9eb76fac45af8e51" +
				"30c81c46a35ce411e5fbc1191a0a52ef" +
				"f69f2445df4f9b17ad2b417be66c3710",
			want: "51f0bebf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := hex.DecodeString(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			mic, err := CalculateMIC(key, msg)
			if err != nil {
				t.Fatalf("CalculateMIC: %v", err)
			}
			if got := hex.EncodeToString(mic[:]); got != tt.want {
				t.Errorf("MIC = %s, want %s", got, tt.want)
			}
		})
	}
}
