package bridge

import (
	"reflect"
	"testing"

	"github.com/lorawan-server/lpwan-node/internal/event"
)

func TestEventNames(t *testing.T) {
	tests := []struct {
		mask event.Mask
		want []string
	}{
		{0, nil},
		{event.RxPacket, []string{"rx_packet"}},
		{event.TxPacket, []string{"tx_packet"}},
		{event.TxFailed, []string{"tx_failed"}},
		{event.RxPacket | event.TxFailed, []string{"rx_packet", "tx_failed"}},
		{event.RxPacket | event.TxPacket | event.TxFailed, []string{"rx_packet", "tx_packet", "tx_failed"}},
	}

	for _, tt := range tests {
		if got := eventNames(tt.mask); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("eventNames(%b) = %v, want %v", tt.mask, got, tt.want)
		}
	}
}
