package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCaptureRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CaptureRequest
		wantErr bool
	}{
		{"defaults", CaptureRequest{Interface: "any", Duration: 30, PacketCount: 50}, false},
		{"at limits", CaptureRequest{Duration: 300, PacketCount: 100}, false},
		{"duration over", CaptureRequest{Duration: 301, PacketCount: 10}, true},
		{"packets over", CaptureRequest{Duration: 10, PacketCount: 101}, true},
		{"zero duration", CaptureRequest{Duration: 0, PacketCount: 10}, true},
		{"negative packets", CaptureRequest{Duration: 10, PacketCount: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestPacketRecordJSONKeepsOrder(t *testing.T) {
	rec := PacketRecord{
		{Name: "frame.number", Value: "1"},
		{Name: "ip.src", Value: "10.0.0.1"},
		{Name: "tcp.flags.str", Value: "·······A·S··"},
		{Name: "eth.type", Value: "0x0800"},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"frame.number":"1","ip.src":"10.0.0.1","tcp.flags.str":"·······A·S··","eth.type":"0x0800"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var back PacketRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.String() != rec.String() {
		t.Errorf("round trip changed record: %q != %q", back.String(), rec.String())
	}
}

func TestPacketRecordString(t *testing.T) {
	rec := PacketRecord{{Name: "frame.len", Value: "60"}, {Name: "ip.ttl", Value: "64"}}
	if got, want := rec.String(), "frame.len: 60, ip.ttl: 64"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if v, ok := rec.Get("ip.ttl"); !ok || v != "64" {
		t.Errorf("Get(ip.ttl) = %q, %v", v, ok)
	}
	if _, ok := rec.Get("udp.length"); ok {
		t.Error("Get(udp.length) should be absent")
	}
}

func TestRiskLevelValid(t *testing.T) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if RiskLevel("critical").Valid() {
		t.Error("critical should not be valid")
	}
}
