package arpcache

import (
	"testing"

	"github.com/elliotchong/vrouter/pkg/common"
)

func TestPacketRoundtrip(t *testing.T) {
	senderMAC := common.MACAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	senderIP := common.IPv4Address{10, 0, 0, 1}
	targetIP := common.IPv4Address{10, 0, 0, 2}

	req := NewRequest(senderMAC, senderIP, common.MACAddress{}, targetIP)
	data := req.Serialize()

	if len(data) != PacketSize {
		t.Fatalf("Serialize() length = %d, want %d", len(data), PacketSize)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Operation != OperationRequest {
		t.Errorf("Operation = %v, want Request", parsed.Operation)
	}
	if parsed.SenderMAC != senderMAC || parsed.SenderIP != senderIP {
		t.Errorf("sender = %s/%s, want %s/%s", parsed.SenderMAC, parsed.SenderIP, senderMAC, senderIP)
	}
	if parsed.TargetIP != targetIP {
		t.Errorf("TargetIP = %s, want %s", parsed.TargetIP, targetIP)
	}
	if !parsed.TargetMAC.IsZero() {
		t.Errorf("TargetMAC = %s, want zero", parsed.TargetMAC)
	}
}

func TestParseRejectsShortPacket(t *testing.T) {
	if _, err := Parse(make([]byte, PacketSize-1)); err == nil {
		t.Fatal("Parse() of short packet should error")
	}
}

func TestParseRejectsBadHardwareType(t *testing.T) {
	data := NewRequest(common.MACAddress{}, common.IPv4Address{}, common.MACAddress{}, common.IPv4Address{}).Serialize()
	data[1] = 0x02 // corrupt hardware type
	if _, err := Parse(data); err == nil {
		t.Fatal("Parse() with bad hardware type should error")
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OperationRequest, "Request"},
		{OperationReply, "Reply"},
		{Operation(99), "Unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Operation(%d).String() = %s, want %s", tt.op, got, tt.want)
		}
	}
}
