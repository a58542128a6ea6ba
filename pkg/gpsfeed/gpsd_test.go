package gpsfeed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// waitFix receives one fix or fails the test.
func waitFix(t *testing.T, ch <-chan PositionFix) PositionFix {
	t.Helper()
	select {
	case fix, ok := <-ch:
		if !ok {
			t.Fatal("fixes channel closed unexpectedly")
		}
		return fix
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fix")
	}
	return PositionFix{}
}

// waitClosed waits for the fixes channel to drain and close.
func waitClosed(t *testing.T, ch <-chan PositionFix) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for fixes channel to close")
		}
	}
}

// TestParseTPV covers the gpsd wire format subset the client consumes.
func TestParseTPV(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		check   func(t *testing.T, fix PositionFix)
	}{
		{
			name:   "full 3D fix",
			line:   `{"class":"TPV","mode":3,"time":"2026-08-25T12:00:00Z","lat":44.9778,"lon":-93.265,"altMSL":256.1,"speed":12.2,"track":88.5}`,
			wantOK: true,
			check: func(t *testing.T, fix PositionFix) {
				if fix.Quality != Quality3D || !fix.Usable() {
					t.Errorf("quality = %v", fix.Quality)
				}
				if fix.Latitude != 44.9778 || fix.Longitude != -93.265 {
					t.Errorf("position = (%v, %v)", fix.Latitude, fix.Longitude)
				}
				if fix.AltitudeM != 256.1 {
					t.Errorf("altitude = %v, want 256.1", fix.AltitudeM)
				}
				if fix.SpeedMPS != 12.2 || fix.HeadingDeg != 88.5 {
					t.Errorf("speed/heading = %v/%v", fix.SpeedMPS, fix.HeadingDeg)
				}
				want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
				if !fix.Time.Equal(want) {
					t.Errorf("time = %v, want %v", fix.Time, want)
				}
				if fix.Source != SourceGPSD {
					t.Errorf("source = %q", fix.Source)
				}
			},
		},
		{
			name:   "2D fix is usable",
			line:   `{"class":"TPV","mode":2,"lat":44.9,"lon":-93.2}`,
			wantOK: true,
			check: func(t *testing.T, fix PositionFix) {
				if fix.Quality != Quality2D || !fix.Usable() {
					t.Errorf("quality = %v, want usable 2D", fix.Quality)
				}
			},
		},
		{
			name:   "searching report is delivered but unusable",
			line:   `{"class":"TPV","mode":1}`,
			wantOK: true,
			check: func(t *testing.T, fix PositionFix) {
				if fix.Quality != QualityNoFix || fix.Usable() {
					t.Errorf("quality = %v, want unusable no-fix", fix.Quality)
				}
			},
		},
		{
			name:   "alt fallback when altMSL missing",
			line:   `{"class":"TPV","mode":3,"lat":1,"lon":2,"alt":100.5}`,
			wantOK: true,
			check: func(t *testing.T, fix PositionFix) {
				if fix.AltitudeM != 100.5 {
					t.Errorf("altitude = %v, want 100.5", fix.AltitudeM)
				}
			},
		},
		{
			name:   "non-TPV class ignored",
			line:   `{"class":"VERSION","release":"3.25"}`,
			wantOK: false,
		},
		{
			name:   "garbage ignored",
			line:   `not json at all`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, ok := parseTPV([]byte(tt.line))
			if ok != tt.wantOK {
				t.Fatalf("parseTPV() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				tt.check(t, fix)
			}
		})
	}
}

// TestGPSDClientStream runs the client against a fake gpsd and verifies the
// watch handshake, fix delivery, and clean shutdown.
func TestGPSDClientStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	watchLine := make(chan string, 1)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		watchLine <- line

		fmt.Fprintln(conn, `{"class":"VERSION","release":"3.25"}`)
		fmt.Fprintln(conn, `{"class":"TPV","mode":3,"lat":44.9778,"lon":-93.265,"altMSL":250}`)

		// Hold the connection until the client hangs up.
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	client := NewGPSDClient(GPSDConfig{
		Address:        ln.Addr().String(),
		DialTimeout:    time.Second,
		ReconnectDelay: 10 * time.Millisecond,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(context.Background()) }()

	select {
	case line := <-watchLine:
		if !strings.HasPrefix(line, "?WATCH=") {
			t.Errorf("watch command = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never sent watch command")
	}

	fix := waitFix(t, client.Fixes())
	if fix.Latitude != 44.9778 || fix.Longitude != -93.265 {
		t.Errorf("fix position = (%v, %v)", fix.Latitude, fix.Longitude)
	}
	if fix.Quality != Quality3D {
		t.Errorf("fix quality = %v, want 3D", fix.Quality)
	}

	client.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() = %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	waitClosed(t, client.Fixes())
}

// TestGPSDClientReconnects verifies the client survives a dropped
// connection and keeps streaming from the next one.
func TestGPSDClientReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			bufio.NewReader(conn).ReadString('\n')
			fmt.Fprintf(conn, `{"class":"TPV","mode":3,"lat":%d,"lon":0}`+"\n", i+1)
			if i == 0 {
				// First connection drops immediately after one fix.
				conn.Close()
				continue
			}
			buf := make([]byte, 1)
			conn.Read(buf)
			conn.Close()
		}
	}()

	// The reconnect delay leaves room to consume the first fix before the
	// second connection can deliver (and potentially drop) another.
	client := NewGPSDClient(GPSDConfig{
		Address:        ln.Addr().String(),
		DialTimeout:    time.Second,
		ReconnectDelay: 300 * time.Millisecond,
	})
	go client.Run(context.Background())
	defer client.Close()

	first := waitFix(t, client.Fixes())
	if first.Latitude != 1 {
		t.Errorf("first fix lat = %v, want 1", first.Latitude)
	}
	second := waitFix(t, client.Fixes())
	if second.Latitude != 2 {
		t.Errorf("second fix lat = %v, want 2 (from reconnected stream)", second.Latitude)
	}
}

// TestWaitForFix verifies the one-shot helper skips unusable reports and
// returns the first usable fix.
func TestWaitForFix(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadString('\n')
		fmt.Fprintln(conn, `{"class":"TPV","mode":1}`)
		fmt.Fprintln(conn, `{"class":"TPV","mode":2,"lat":44.9,"lon":-93.2}`)
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	fix, err := WaitForFix(ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForFix() error = %v", err)
	}
	if fix.Latitude != 44.9 || fix.Longitude != -93.2 || fix.Quality != Quality2D {
		t.Errorf("fix = %+v", fix)
	}
}

// TestWaitForFixNoFix verifies the distinct no-fix failure when the stream
// ends without a usable report.
func TestWaitForFixNoFix(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		bufio.NewReader(conn).ReadString('\n')
		fmt.Fprintln(conn, `{"class":"TPV","mode":1}`)
		conn.Close()
	}()

	_, err = WaitForFix(ln.Addr().String(), 2*time.Second)
	if !errors.Is(err, ErrNoFix) {
		t.Errorf("error = %v, want ErrNoFix", err)
	}
}

// TestWaitForFixConnectError verifies dial failures are reported as such.
func TestWaitForFixConnectError(t *testing.T) {
	// Grab a port and release it so the dial has nothing to hit.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := WaitForFix(addr, 500*time.Millisecond); err == nil {
		t.Error("WaitForFix() succeeded against a closed port")
	}
}
