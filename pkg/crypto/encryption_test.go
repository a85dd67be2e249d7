package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("not-thirty-two-bytes"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	plaintext := "ya29.a0AfH6SMBx-refresh-token"
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptEmptyPassesThrough(t *testing.T) {
	enc, _ := NewEncryptor([]byte("key"))

	sealed, err := enc.Encrypt("")
	if err != nil || sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", sealed, err)
	}
	got, err := enc.Decrypt("")
	if err != nil || got != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", got, err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, _ := NewEncryptor([]byte("key"))
	sealed, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := "A" + sealed[1:]
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("tampered ciphertext decrypted")
	}
	if _, err := enc.Decrypt("not base64!!"); err != ErrInvalidCiphertext {
		t.Errorf("malformed input error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc1, _ := NewEncryptor([]byte("key-one"))
	enc2, _ := NewEncryptor([]byte("key-two"))

	sealed, err := enc1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := enc2.Decrypt(sealed); err != ErrDecryptionFailed {
		t.Errorf("wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestNewEncryptorEmptyKey(t *testing.T) {
	if _, err := NewEncryptor(nil); err == nil {
		t.Error("expected error for empty key")
	}
}
