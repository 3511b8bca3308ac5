package keyring

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	const id = "5f0c6f0e-image"

	if HasPassword(id) {
		t.Fatal("fresh keyring should be empty")
	}
	if _, err := GetPassword(id); !IsNotFound(err) {
		t.Errorf("GetPassword on empty keyring: err = %v", err)
	}

	if err := SavePassword(id, "hunter2"); err != nil {
		t.Fatalf("SavePassword failed: %v", err)
	}
	if !HasPassword(id) {
		t.Error("password should be stored")
	}
	got, err := GetPassword(id)
	if err != nil || got != "hunter2" {
		t.Errorf("GetPassword = %q, %v", got, err)
	}

	if err := DeletePassword(id); err != nil {
		t.Fatalf("DeletePassword failed: %v", err)
	}
	if HasPassword(id) {
		t.Error("password should be gone")
	}
	if err := DeletePassword(id); !IsNotFound(err) {
		t.Errorf("second delete: err = %v", err)
	}
}
