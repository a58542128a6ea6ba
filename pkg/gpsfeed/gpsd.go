package gpsfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/skpeterson2000/towerwitch/internal/logging"
)

// DefaultGPSDAddress is gpsd's conventional listen address.
const DefaultGPSDAddress = "localhost:2947"

const (
	watchCommand          = "?WATCH={\"enable\":true,\"json\":true}\n"
	defaultDialTimeout    = 5 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// ErrNoFix is returned by WaitForFix when gpsd produced no usable fix in
// time.
var ErrNoFix = errors.New("no usable fix from gpsd")

// GPSDConfig configures a GPSDClient.
type GPSDConfig struct {
	// Address is gpsd's host:port. Defaults to DefaultGPSDAddress.
	Address string

	// DialTimeout bounds each connection attempt. Defaults to 5s.
	DialTimeout time.Duration

	// ReconnectDelay is the pause after a failed connection or a
	// disconnect before retrying. Defaults to 5s.
	ReconnectDelay time.Duration

	// Logger receives connection lifecycle events. Optional.
	Logger logging.Logger
}

// GPSDClient streams position fixes from a gpsd daemon. It reconnects
// after failures and keeps streaming until Close is called or its context
// is cancelled. All TPV reports are delivered, including no-fix ones, so
// consumers can distinguish "searching" from "feed down".
type GPSDClient struct {
	cfg GPSDConfig
	log logging.Logger

	fixes     chan PositionFix
	closed    chan struct{}
	closeOnce sync.Once
}

// NewGPSDClient returns a client ready to Run.
func NewGPSDClient(cfg GPSDConfig) *GPSDClient {
	if cfg.Address == "" {
		cfg.Address = DefaultGPSDAddress
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &GPSDClient{
		cfg:    cfg,
		log:    logging.OrNoop(cfg.Logger).With(logging.String("component", "gpsd")),
		fixes:  make(chan PositionFix, 1),
		closed: make(chan struct{}),
	}
}

// Fixes returns the delivery channel. It is closed when Run returns.
func (c *GPSDClient) Fixes() <-chan PositionFix { return c.fixes }

// Close stops the client. Safe to call more than once and from any
// goroutine.
func (c *GPSDClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Run connects to gpsd and streams fixes until ctx is cancelled or Close
// is called. A slow consumer never blocks the stream: fixes it has not
// picked up are dropped, since only the latest position matters.
func (c *GPSDClient) Run(ctx context.Context) error {
	defer close(c.fixes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		conn, err := net.DialTimeout("tcp", c.cfg.Address, c.cfg.DialTimeout)
		if err != nil {
			c.log.Warn("gpsd connection failed",
				logging.String("address", c.cfg.Address),
				logging.Err(err),
				logging.Any("retry_in", c.cfg.ReconnectDelay))
			if !c.sleep(ctx, c.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		c.log.Info("connected to gpsd", logging.String("address", c.cfg.Address))
		c.stream(ctx, conn)
		c.log.Info("disconnected from gpsd, reconnecting")

		if !c.sleep(ctx, c.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// stream issues the watch command and forwards TPV reports until the
// connection drops or the client stops.
func (c *GPSDClient) stream(ctx context.Context, conn net.Conn) {
	// Unblock the scanner on shutdown by closing the connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.closed:
		case <-done:
		}
		conn.Close()
	}()

	if _, err := fmt.Fprint(conn, watchCommand); err != nil {
		c.log.Warn("gpsd watch command failed", logging.Err(err))
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fix, ok := parseTPV(scanner.Bytes())
		if !ok {
			continue
		}
		select {
		case c.fixes <- fix:
		default:
			// Consumer is behind: replace the undelivered fix, since
			// only the latest position matters.
			select {
			case <-c.fixes:
			default:
			}
			select {
			case c.fixes <- fix:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("gpsd read error", logging.Err(err))
	}
}

// sleep waits for d, returning false if the client stopped first.
func (c *GPSDClient) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-t.C:
		return true
	}
}

// tpvMessage is the subset of a gpsd TPV JSON object we need.
type tpvMessage struct {
	Class  string  `json:"class"`
	Mode   int     `json:"mode"`
	Time   string  `json:"time"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt"`
	AltMSL float64 `json:"altMSL"`
	Track  float64 `json:"track"`
	Speed  float64 `json:"speed"`
}

// parseTPV converts one gpsd JSON line into a PositionFix. Non-TPV lines
// and unparseable input return ok=false.
func parseTPV(line []byte) (PositionFix, bool) {
	var msg tpvMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return PositionFix{}, false
	}
	if msg.Class != "TPV" {
		return PositionFix{}, false
	}

	// Prefer altMSL, fall back to alt.
	altitude := msg.AltMSL
	if altitude == 0 {
		altitude = msg.Alt
	}

	ts := time.Now().UTC()
	if msg.Time != "" {
		if t, err := time.Parse(time.RFC3339, msg.Time); err == nil {
			ts = t
		}
	}

	return PositionFix{
		Latitude:   msg.Lat,
		Longitude:  msg.Lon,
		AltitudeM:  altitude,
		SpeedMPS:   msg.Speed,
		HeadingDeg: msg.Track,
		Quality:    qualityFromMode(msg.Mode),
		Source:     SourceGPSD,
		Time:       ts,
	}, true
}

func qualityFromMode(mode int) FixQuality {
	switch {
	case mode >= 3:
		return Quality3D
	case mode == 2:
		return Quality2D
	}
	return QualityNoFix
}

// WaitForFix connects to gpsd at addr, requests a watch, and blocks until
// the first usable (2D or better) fix arrives or the timeout elapses. Used
// by the one-shot tools that need a single position rather than a stream.
func WaitForFix(addr string, timeout time.Duration) (PositionFix, error) {
	if addr == "" {
		addr = DefaultGPSDAddress
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return PositionFix{}, fmt.Errorf("gpsd connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return PositionFix{}, fmt.Errorf("gpsd set deadline: %w", err)
	}

	if _, err := fmt.Fprint(conn, watchCommand); err != nil {
		return PositionFix{}, fmt.Errorf("gpsd watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fix, ok := parseTPV(scanner.Bytes())
		if !ok || !fix.Usable() {
			continue
		}
		return fix, nil
	}
	if err := scanner.Err(); err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return PositionFix{}, fmt.Errorf("%w within %v", ErrNoFix, timeout)
		}
		return PositionFix{}, fmt.Errorf("gpsd read: %w", err)
	}

	return PositionFix{}, fmt.Errorf("%w within %v", ErrNoFix, timeout)
}
