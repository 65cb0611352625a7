package stt

import "testing"

func TestParseTranscriptionEvent(t *testing.T) {
	raw := `{"type":"transcript","transcript":"hello world","confidence":0.92,"is_final":true,"language":"en-US"}`

	ev, err := ParseTranscriptionEvent([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Transcript != "hello world" || !ev.IsFinal {
		t.Fatalf("parsed %+v", ev)
	}
	if ev.Confidence != 0.92 {
		t.Fatalf("Confidence = %v, want 0.92", ev.Confidence)
	}

	stream := ev.ToStreamEvent()
	if stream.Type != EventFinal {
		t.Fatalf("Type = %v, want EventFinal", stream.Type)
	}
	if stream.Text != "hello world" {
		t.Fatalf("Text = %q", stream.Text)
	}
}

func TestParseTranscriptionEventPartial(t *testing.T) {
	raw := `{"type":"transcript","transcript":"hel","is_final":false}`

	ev, err := ParseTranscriptionEvent([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if stream := ev.ToStreamEvent(); stream.Type != EventFragment {
		t.Fatalf("Type = %v, want EventFragment", stream.Type)
	}
}

func TestParseTranscriptionEventMalformed(t *testing.T) {
	if _, err := ParseTranscriptionEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("expected parse error")
	}
}
