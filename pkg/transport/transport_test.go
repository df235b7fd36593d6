package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"tcp", KindTCP, false},
		{"TCP", KindTCP, false},
		{"udp", KindUDP, false},
		{" udp ", KindUDP, false},
		{"", KindTCP, false},
		{"serial", 0, true},
	}
	for _, c := range cases {
		got, err := ParseKind(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseKind(%q): expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("ParseKind(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
	}
}

func TestDialTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, KindTCP, lis.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr().String() != lis.Addr().String() {
		t.Fatalf("remote addr mismatch: %v", conn.RemoteAddr())
	}
}

func TestDialRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Dial(ctx, KindTCP, "127.0.0.1:1"); err == nil {
		t.Fatalf("expected dial to fail with cancelled context")
	}
}
