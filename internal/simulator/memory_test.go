package simulator

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackend_Accounts(t *testing.T) {
	tests := []struct {
		name     string
		accounts map[string]string
		user     string
		key      string
		wantErr  error
	}{
		{"open backend", nil, "anyone", "anything", nil},
		{"known account", map[string]string{"alice": "k1"}, "alice", "k1", nil},
		{"wrong key", map[string]string{"alice": "k1"}, "alice", "k2", ErrAuthRejected},
		{"unknown user", map[string]string{"alice": "k1"}, "bob", "k1", ErrAuthRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMemoryBackend()
			for u, k := range tt.accounts {
				b.AddAccount(u, k)
			}
			_, err := b.Connect(context.Background(), "io.adafruit.com", 1883, tt.user, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryBackend_FanOut(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	s1, _ := b.Connect(ctx, "h", 1883, "u", "k")
	s2, _ := b.Connect(ctx, "h", 1883, "u", "k")

	var got1, got2 []string
	_ = s1.Subscribe("u/f/a", func(_, msg string) { got1 = append(got1, msg) })
	_ = s2.Subscribe("u/f/a", func(_, msg string) { got2 = append(got2, msg) })
	_ = s2.Subscribe("u/f/b", func(_, msg string) { got2 = append(got2, "b:"+msg) })

	if err := s1.Publish("u/f/a", "1"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b.Inject("u/f/b", "2")

	if len(got1) != 1 || got1[0] != "1" {
		t.Errorf("session 1 received %v, want [1]", got1)
	}
	if len(got2) != 2 || got2[1] != "b:2" {
		t.Errorf("session 2 received %v, want [1 b:2]", got2)
	}
	if len(b.Published()) != 1 {
		t.Errorf("Published() = %v, want one entry", b.Published())
	}

	_ = s1.Close()
	if n := b.Inject("u/f/a", "3"); n != 1 {
		t.Errorf("Inject() after close delivered to %d, want 1", n)
	}
	if err := s1.Publish("u/f/a", "x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Publish() on closed session error = %v, want ErrSessionClosed", err)
	}
	if err := s1.Subscribe("u/f/a", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe() on closed session error = %v, want ErrSessionClosed", err)
	}
}
