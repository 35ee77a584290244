package util

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

func TestIsHarmless(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"op error closed", &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
		{"plain", fmt.Errorf("connection reset by peer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHarmless(tt.err); got != tt.want {
				t.Errorf("IsHarmless(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestCloseWrite_TCP verifies the peer observes EOF while the read side
// of the half-closed connection keeps working.
func TestCloseWrite_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn) // returns on the half-close
		conn.Write([]byte("bye"))   //nolint:errcheck
		got <- data
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("hello")) //nolint:errcheck
	if err := CloseWrite(conn); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read after half-close: %v", err)
	}
	if string(reply) != "bye" {
		t.Errorf("reply = %q, want %q", reply, "bye")
	}
	if data := <-got; string(data) != "hello" {
		t.Errorf("server got %q, want %q", data, "hello")
	}
}

func TestCloseWrite_Pipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if err := CloseWrite(a); err != nil {
		t.Errorf("pipe CloseWrite should be a no-op, got %v", err)
	}
}
