package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte("SQLite format 3\x00 pretend database pages")

	sealed, err := Seal(plain, "correct horse battery")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(sealed) <= saltSize+nonceSize {
		t.Fatalf("sealed length = %d, too short", len(sealed))
	}
	if bytes.Contains(sealed, []byte("SQLite format")) {
		t.Error("sealed data contains plaintext")
	}

	got, err := Open(sealed, "correct horse battery")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("open = %q, want %q", got, plain)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, err := Seal([]byte("same"), "passphrase-one")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := Seal([]byte("same"), "passphrase-one")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("two snapshots share a salt")
	}
	if bytes.Equal(a, b) {
		t.Error("two snapshots of the same data are identical")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("data"), "right passphrase")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(sealed, "wrong passphrase"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestOpenTampered(t *testing.T) {
	sealed, err := Seal([]byte("data"), "right passphrase")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, "right passphrase"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestOpenTooShort(t *testing.T) {
	if _, err := Open([]byte("tiny"), "x"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}
