package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/kidquest/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	// Private key should be base64url-encoded, 32 bytes P-256 scalar
	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

type fakeSubs struct {
	subs    []model.PushSubscription
	deleted []string
}

func (f *fakeSubs) ListByUser(_ context.Context, userID string) ([]model.PushSubscription, error) {
	var out []model.PushSubscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubs) DeleteByEndpoint(_ context.Context, endpoint string) error {
	f.deleted = append(f.deleted, endpoint)
	return nil
}

// browserKeys returns the p256dh and auth values a browser would register.
func browserKeys(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	rand.Read(auth)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(auth)
}

func TestNotifyUser(t *testing.T) {
	var hits int
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("Authorization") == "" {
			t.Error("expected VAPID authorization header")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer live.Close()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()

	p256dh, auth := browserKeys(t)
	subs := &fakeSubs{subs: []model.PushSubscription{
		{UserID: "bob", Endpoint: live.URL + "/a", P256dhKey: p256dh, AuthKey: auth},
		{UserID: "bob", Endpoint: gone.URL + "/b", P256dhKey: p256dh, AuthKey: auth},
		{UserID: "carol", Endpoint: live.URL + "/c", P256dhKey: p256dh, AuthKey: auth},
	}}

	pub, priv, _ := GenerateVAPIDKeys()
	svc := NewService(pub, priv, "mailto:test@example.com", subs, slog.Default())

	sent := svc.NotifyUser(context.Background(), "bob", Payload{Title: "New challenge", Body: "Amy challenged you", Tag: model.NotifTagChallenge})
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if hits != 1 {
		t.Errorf("live endpoint hits = %d, want 1", hits)
	}
	if len(subs.deleted) != 1 || subs.deleted[0] != gone.URL+"/b" {
		t.Errorf("deleted = %v, want the gone endpoint", subs.deleted)
	}
}

func TestNotifyUserDisabled(t *testing.T) {
	subs := &fakeSubs{subs: []model.PushSubscription{{UserID: "bob", Endpoint: "http://127.0.0.1:1/x"}}}
	svc := NewService("", "", "", subs, slog.Default())

	if svc.Enabled() {
		t.Fatal("expected service without keys to be disabled")
	}
	if sent := svc.NotifyUser(context.Background(), "bob", Payload{Title: "x"}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
}
