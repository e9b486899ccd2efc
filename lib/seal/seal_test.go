package seal

import (
	"testing"

	"filippo.io/age"
)

func TestSealOpen(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	s, err := New(id.String())
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	const phrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	sealed, ok, err := s.Seal(phrase)
	if err != nil || !ok {
		t.Fatalf("seal: %v %v", ok, err)
	}
	if sealed == phrase {
		t.Errorf("value not encrypted")
	}

	plain, err := s.Open(sealed, true)
	if err != nil || plain != phrase {
		t.Errorf("open: %q %v", plain, err)
	}

	// records stored before sealing was enabled
	if plain, _ = s.Open("plain words", false); plain != "plain words" {
		t.Errorf("unsealed value changed: %q", plain)
	}

	// a different identity cannot open it
	other, _ := age.GenerateX25519Identity()
	o, _ := New(other.String())
	if _, err = o.Open(sealed, true); err == nil {
		t.Errorf("expected an error with the wrong identity")
	}
}

func TestPassThrough(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	v, ok, err := s.Seal("words")
	if err != nil || ok || v != "words" {
		t.Errorf("expected pass-through, got %q %v %v", v, ok, err)
	}
	if _, err = s.Open("x", true); err == nil {
		t.Errorf("sealed values need an identity")
	}
	if _, err = New("not a key"); err == nil {
		t.Errorf("expected a parse error")
	}
}
