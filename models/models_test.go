package models

import "testing"

func TestVoiceRefRoundTrip(t *testing.T) {
	ref := VoiceRef{Duration: 12, Path: "storage/voice_alice_1700000000000000000.wav"}

	body := ref.String()
	if body != "VOICE:12:storage/voice_alice_1700000000000000000.wav" {
		t.Fatalf("unexpected body %q", body)
	}
	if !IsVoiceRef(body) {
		t.Fatal("expected body to be recognised as voice reference")
	}

	got, err := ParseVoiceRef(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != ref {
		t.Fatalf("expected %+v, got %+v", ref, got)
	}
}

func TestParseVoiceRefPathWithColon(t *testing.T) {
	got, err := ParseVoiceRef(`VOICE:3:C:\storage\clip.wav`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Duration != 3 || got.Path != `C:\storage\clip.wav` {
		t.Fatalf("unexpected ref %+v", got)
	}
}

func TestParseVoiceRefRejectsMalformed(t *testing.T) {
	for _, body := range []string{"hello", "VOICE:", "VOICE:abc:path", "VOICE:5:", "VOICE:5"} {
		if _, err := ParseVoiceRef(body); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusBusy.Valid() || !StatusOnline.Valid() || !StatusOffline.Valid() {
		t.Fatal("expected defined statuses to be valid")
	}
	if Status(1).Valid() {
		t.Fatal("away is not a server status")
	}
}
