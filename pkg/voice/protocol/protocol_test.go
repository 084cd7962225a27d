package protocol

import "testing"

func TestDecodeServerMessage_CombinedFields(t *testing.T) {
	data := []byte(`{"type":"server_content","input_transcription":"he","output_transcription":"Hi","turn_complete":true,"audio":"AAA="}`)
	msg, err := DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if msg.InputText == nil || *msg.InputText != "he" {
		t.Fatalf("InputText = %v", msg.InputText)
	}
	if msg.OutputText == nil || *msg.OutputText != "Hi" {
		t.Fatalf("OutputText = %v", msg.OutputText)
	}
	if !msg.TurnComplete {
		t.Fatalf("TurnComplete = false")
	}
	if msg.AudioB64 != "AAA=" {
		t.Fatalf("AudioB64 = %q", msg.AudioB64)
	}
}

func TestDecodeServerMessage_EmptyFragmentIsPresent(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"server_content","input_transcription":""}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if msg.InputText == nil {
		t.Fatalf("empty fragment should still be present")
	}
	if *msg.InputText != "" {
		t.Fatalf("InputText = %q, want empty", *msg.InputText)
	}
}

func TestDecodeServerMessage_TurnCompleteOnly(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"turn_complete":true}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if !msg.TurnComplete || msg.InputText != nil || msg.OutputText != nil {
		t.Fatalf("unexpected message: %#v", msg)
	}
}

func TestDecodeServerMessage_Rejects(t *testing.T) {
	if _, err := DecodeServerMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error for invalid JSON")
	}
	if _, err := DecodeServerMessage([]byte(`{}`)); err == nil {
		t.Fatalf("expected decode error for shapeless frame")
	}
}
