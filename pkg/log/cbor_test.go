package log

import (
	"testing"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 41, 12, 123456789, time.UTC)
	original := Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-def6-7890-abcd-ef1234567890",
		Direction:    DirectionOut,
		Layer:        LayerMarkup,
		Category:     CategoryMessage,
		LocalRole:    RoleBridge,
		RemoteAddr:   "192.168.1.20:8093",
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.ConnectionID != original.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, original.ConnectionID)
	}
	if decoded.Direction != original.Direction {
		t.Errorf("Direction: got %v, want %v", decoded.Direction, original.Direction)
	}
	if decoded.Layer != original.Layer {
		t.Errorf("Layer: got %v, want %v", decoded.Layer, original.Layer)
	}
	if decoded.LocalRole != original.LocalRole {
		t.Errorf("LocalRole: got %v, want %v", decoded.LocalRole, original.LocalRole)
	}
	if decoded.RemoteAddr != original.RemoteAddr {
		t.Errorf("RemoteAddr: got %q, want %q", decoded.RemoteAddr, original.RemoteAddr)
	}
}

func TestPayloadCBORRoundTrip(t *testing.T) {
	original := Event{
		Timestamp: time.Now(),
		Layer:     LayerStore,
		Message: &MessageEvent{
			Sections: []wire.Category{wire.CategoryConfig, wire.CategoryStatus},
			Updates:  3,
			Paths:    []string{"board(2):gain"},
		},
		Row: &RowEvent{Table: "status", ID: "Temp", Value: "21.5", Serial: 6, Dispatched: true},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if decoded.Message == nil || decoded.Row == nil {
		t.Fatalf("payloads lost: %+v", decoded)
	}
	if len(decoded.Message.Sections) != 2 || decoded.Message.Sections[1] != wire.CategoryStatus {
		t.Errorf("Sections = %v, want [config status]", decoded.Message.Sections)
	}
	if decoded.Message.Updates != 3 {
		t.Errorf("Updates = %d, want 3", decoded.Message.Updates)
	}
	if *decoded.Row != *original.Row {
		t.Errorf("Row = %+v, want %+v", *decoded.Row, *original.Row)
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	data := make([]byte, MaxFrameData+10)
	fe := NewFrameEvent(data, len(data))
	if !fe.Truncated {
		t.Error("expected Truncated")
	}
	if len(fe.Data) != MaxFrameData {
		t.Errorf("len(Data) = %d, want %d", len(fe.Data), MaxFrameData)
	}
	if fe.Size != MaxFrameData+10 {
		t.Errorf("Size = %d, want %d", fe.Size, MaxFrameData+10)
	}

	small := NewFrameEvent([]byte("<system/>"), 10)
	if small.Truncated || string(small.Data) != "<system/>" {
		t.Errorf("small frame = %+v", small)
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerMarkup.String(), "MARKUP"},
		{LayerMirror.String(), "MIRROR"},
		{LayerStore.String(), "STORE"},
		{CategoryControl.String(), "CONTROL"},
		{CategoryError.String(), "ERROR"},
		{RoleClient.String(), "CLIENT"},
		{RoleDevice.String(), "DEVICE"},
		{RoleBridge.String(), "BRIDGE"},
		{StateEntityWorker.String(), "WORKER"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
