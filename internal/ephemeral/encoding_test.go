package ephemeral

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := map[string][]byte{
		"cursor":  []byte("x:10,y:20"),
		"empty":   {},
		"binary":  {0x00, 0xff, 0x10},
	}
	data := EncodeSnapshot(in)
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for k, v := range in {
		got, ok := out[k]
		if !ok {
			t.Fatalf("missing key %q", k)
		}
		if string(got) != string(v) {
			t.Errorf("key %q: got %v want %v", k, got, v)
		}
	}
}

func TestEncodeEmptyMap(t *testing.T) {
	data := EncodeSnapshot(map[string][]byte{})
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty map, got %d entries", len(out))
	}
}

func TestDecodeTruncatedRejected(t *testing.T) {
	if _, err := DecodeSnapshot([]byte{0, 0, 0, 1}); err == nil {
		t.Error("expected error decoding a snapshot that claims an entry but has none")
	}
	if _, err := DecodeSnapshot([]byte{0, 0}); err == nil {
		t.Error("expected error decoding a snapshot shorter than the count header")
	}
}
