package mailer

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"gopkg.in/mail.v2"
)

func TestSend_DisabledMailer(t *testing.T) {
	m := New(Config{})
	if m.Enabled() {
		t.Fatal("expected mailer without host to be disabled")
	}
	if err := m.Send(context.Background(), Message{To: "a@example.com"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestSend_DeliversMessage(t *testing.T) {
	var sent *mail.Message
	m := &Mailer{
		sender:  "alerts@example.com",
		timeout: time.Second,
		send: func(gm *mail.Message) error {
			sent = gm
			return nil
		},
	}

	err := m.Send(context.Background(), Message{
		To:      "user@example.com",
		Subject: "Subscription Renewal Reminder: Netflix",
		Text:    "plain",
		HTML:    "<p>html</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent == nil {
		t.Fatal("expected send func to be called")
	}
	if got := sent.GetHeader("To"); len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	if got := sent.GetHeader("From"); len(got) != 1 || got[0] != "alerts@example.com" {
		t.Fatalf("unexpected From header %v", got)
	}
}

func TestSend_PropagatesTransportError(t *testing.T) {
	transportErr := errors.New("connection refused")
	m := &Mailer{send: func(*mail.Message) error { return transportErr }}

	err := m.Send(context.Background(), Message{To: "user@example.com", Text: "x"})
	if !errors.Is(err, transportErr) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestSend_TimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := &Mailer{
		timeout: 20 * time.Millisecond,
		send: func(*mail.Message) error {
			<-release
			return nil
		},
	}

	start := time.Now()
	err := m.Send(context.Background(), Message{To: "user@example.com", Text: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("send was not bounded by the timeout, took %s", elapsed)
	}
}

func TestSend_RejectsEmptyRecipient(t *testing.T) {
	m := &Mailer{send: func(*mail.Message) error { return nil }}
	if err := m.Send(context.Background(), Message{Text: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

// stallingSMTPServer accepts connections and never sends a greeting.
func stallingSMTPServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSend_StalledServerDoesNotLeakGoroutines(t *testing.T) {
	port := stallingSMTPServer(t)
	m := New(Config{
		Host:    "127.0.0.1",
		Port:    port,
		Sender:  "alerts@example.com",
		Timeout: 100 * time.Millisecond,
	})

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		if err := m.Send(context.Background(), Message{To: "user@example.com", Text: "x"}); err == nil {
			t.Fatal("expected send to a stalled server to fail")
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		after := runtime.NumGoroutine()
		if after <= before+1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("send goroutines did not exit: before=%d after=%d", before, after)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
