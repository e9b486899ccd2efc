package db

import (
	"testing"

	"github.com/tarancss/chatrelay/lib/store/memory"
)

func TestNew(t *testing.T) {
	dh, err := New(MEMORY, "")
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	if _, ok := dh.(*memory.Memory); !ok {
		t.Errorf("expected a memory store, got %T", dh)
	}
	if err = Close(MEMORY, dh); err != nil {
		t.Errorf("err:%e", err)
	}

	if _, err = New("cassandra", ""); err == nil {
		t.Errorf("expected an error for an unknown type")
	}
}
