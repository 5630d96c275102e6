package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSecretProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider, err := NewAppKeySecretProviderFromString("portal-app-key-material")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("whsec_example_signing_secret")
	sealed, err := provider.Encrypt(ctx, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("ciphertext must not contain the plaintext secret")
	}
	if !strings.HasPrefix(string(sealed), "reportflow.secret.v1:") {
		t.Fatalf("expected envelope prefix, got %s", sealed)
	}

	opened, err := provider.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected round trip to preserve secret")
	}
}

func TestSecretProviderNoncesDiffer(t *testing.T) {
	ctx := context.Background()
	provider, err := NewAppKeySecretProviderFromString("portal-app-key-material")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	first, err := provider.Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("first encrypt: %v", err)
	}
	second, err := provider.Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("second encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("expected fresh nonce per encryption")
	}
}

func TestSecretProviderRejectsWrongKey(t *testing.T) {
	ctx := context.Background()
	provider, _ := NewAppKeySecretProviderFromString("key-one")
	other, _ := NewAppKeySecretProviderFromString("key-two")

	sealed, err := provider.Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.Decrypt(ctx, sealed); err == nil {
		t.Fatalf("expected decryption with wrong key to fail")
	}
}

func TestSecretProviderRejectsKeyMetadataMismatch(t *testing.T) {
	ctx := context.Background()
	provider, _ := NewAppKeySecretProviderFromString("key-material", WithKeyID("kid-a"))
	rotated, _ := NewAppKeySecretProviderFromString("key-material", WithKeyID("kid-b"))
	versioned, _ := NewAppKeySecretProviderFromString("key-material", WithKeyID("kid-a"), WithVersion(2))

	sealed, err := provider.Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := rotated.Decrypt(ctx, sealed); err == nil {
		t.Fatalf("expected key id mismatch to fail")
	}
	if _, err := versioned.Decrypt(ctx, sealed); err == nil {
		t.Fatalf("expected version mismatch to fail")
	}
}

func TestSecretProviderRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	provider, _ := NewAppKeySecretProviderFromString("key-material")
	for _, input := range [][]byte{nil, []byte("not an envelope"), []byte("reportflow.secret.v1:{bad json")} {
		if _, err := provider.Decrypt(ctx, input); err == nil {
			t.Fatalf("expected decrypt of %q to fail", input)
		}
	}
}

func TestSecretProviderRequiresKeyMaterial(t *testing.T) {
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatalf("expected empty key material to be rejected")
	}
	if _, err := NewAppKeySecretProviderFromString("   "); err == nil {
		t.Fatalf("expected blank key material to be rejected")
	}
}

func TestGenerateWebhookSecret(t *testing.T) {
	first, err := GenerateWebhookSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateWebhookSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(first, "whsec_") {
		t.Fatalf("expected whsec_ prefix, got %q", first)
	}
	if first == second {
		t.Fatalf("expected unique secrets per call")
	}
	if len(first) < 40 {
		t.Fatalf("expected at least 256 bits of encoded entropy, got %q", first)
	}
}
