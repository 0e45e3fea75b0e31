// Package netfrontend implements the concurrent TCP front-end: one
// goroutine per accepted connection plus one for the periodic timestamp
// injector, both driving a shared device.Surface. It is the Go analogue of
// aesdsocket.c's accept loop, on_connect, and log_time.
package netfrontend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aesdlog/aesdlogd/internal/device"
	"github.com/aesdlog/aesdlogd/internal/logger"
)

const (
	seekPrefix     = "AESDCHAR_IOCSEEKTO:"
	readChunkSize  = 1024 // BUFFER_SIZE in aesdsocket.c
	backlog        = 10
	bindRetries    = 5
	bindRetryDelay = time.Second
)

// Persister is satisfied by internal/persist.Mirror. It is optional — when
// nil, the frontend runs purely against the in-memory ring, matching the
// character-device build in aesdsocket.c's #ifdef.
type Persister interface {
	Append(data []byte) error
}

// Frontend accepts TCP clients on Port and drives each one against Surface.
type Frontend struct {
	Port              int
	Surface           *device.Surface
	TimestampInterval time.Duration
	Persist           Persister

	// Ready, when non-nil, receives the bound listener's address once
	// Serve has finished binding. Tests set Port: 0 and read this to learn
	// the OS-assigned port; production callers leave it nil.
	Ready chan net.Addr

	wg sync.WaitGroup
}

// New creates a Frontend. persist may be nil.
func New(port int, surf *device.Surface, interval time.Duration, persist Persister) *Frontend {
	return &Frontend{Port: port, Surface: surf, TimestampInterval: interval, Persist: persist}
}

// Serve binds the listener, retrying bind up to bindRetries times with a
// 1-second delay between attempts (mirroring aesdsocket.c's bind loop),
// then accepts connections and runs the timestamp injector until ctx is
// cancelled. It returns once the accept loop and the injector have both
// exited — no in-flight session is forcibly interrupted (spec.md §9
// "shutdown race").
func (f *Frontend) Serve(ctx context.Context) error {
	ln, err := f.listenWithRetry()
	if err != nil {
		return fmt.Errorf("netfrontend: %w", err)
	}

	logger.Info("listening", "port", f.Port)
	if f.Ready != nil {
		f.Ready <- ln.Addr()
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runTimestampInjector(ctx)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	acceptErr := f.acceptLoop(ctx, ln)
	f.wg.Wait()
	return acceptErr
}

func (f *Frontend) listenWithRetry() (net.Listener, error) {
	var lastErr error
	for attempt := 1; attempt <= bindRetries; attempt++ {
		ln, err := listenTCP(f.Port, backlog)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		logger.Warn("bind attempt failed", "attempt", attempt, "err", err)
		if attempt < bindRetries {
			time.Sleep(bindRetryDelay)
		}
	}
	return nil, fmt.Errorf("bind: %w", lastErr)
}

func (f *Frontend) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			// Sessions do not inherit shutdown cancellation, so an in-flight
			// request still completes its write and response.
			f.handleSession(context.WithoutCancel(ctx), conn)
		}()
	}
}

// handleSession implements spec.md §4.4 steps 1-6: accumulate a
// newline-terminated request, branch on the seek-directive prefix, and
// either stream from the new cursor to end or append-then-stream the
// whole log, then close.
func (f *Frontend) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var remote string
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remote = tcp.IP.String()
	} else {
		remote = conn.RemoteAddr().String()
	}

	session := f.Surface.Open()
	defer f.Surface.Release(session)

	logger.Info("accepted connection", "remote", remote, "session", session.ID)
	defer logger.Info("closed connection", "remote", remote, "session", session.ID)

	line, err := readLine(conn)
	if bytes.IndexByte(line, '\n') < 0 {
		// Peer closed (or errored) before completing a command; the
		// original silently drops an unterminated fragment rather than
		// treating it as a request.
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Warn("read error", "remote", remote, "session", session.ID, "err", err)
		}
		return
	}

	if cmd, off, ok := parseSeekDirective(line); ok {
		f.handleSeek(ctx, conn, remote, session, cmd, off)
		return
	}

	f.handleWrite(ctx, conn, remote, session, line)
}

// readLine reads from conn in fixed-size chunks until a newline appears in
// the just-received chunk or the peer closes, returning everything
// accumulated so far (matching aesdsocket.c's do/while + memchr loop).
func readLine(conn net.Conn) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if bytes.IndexByte(chunk[:n], '\n') >= 0 {
				return buf, nil
			}
		}
		if err != nil {
			return buf, err
		}
	}
}

func (f *Frontend) handleWrite(ctx context.Context, conn net.Conn, remote string, session *device.Session, line []byte) {
	if _, err := f.Surface.Write(ctx, session, line); err != nil {
		logger.Warn("write failed", "remote", remote, "session", session.ID, "err", err)
		return
	}
	if f.Persist != nil {
		if err := f.Persist.Append(line); err != nil {
			logger.Warn("persist append failed", "remote", remote, "session", session.ID, "err", err)
		}
	}

	reader := f.Surface.Open()
	defer f.Surface.Release(reader)
	f.streamToEnd(ctx, conn, reader, remote, session.ID)
}

func (f *Frontend) handleSeek(ctx context.Context, conn net.Conn, remote string, session *device.Session, cmd, off uint32) {
	if err := f.Surface.SeekToCommand(ctx, session, cmd, off); err != nil {
		logger.Warn("seek directive out of range", "remote", remote, "session", session.ID, "cmd", cmd, "offset", off, "err", err)
		return
	}
	f.streamToEnd(ctx, conn, session, remote, session.ID)
}

// streamToEnd drains reader to the peer. sessionID is the connection's own
// session, used in log lines so they correlate with accept/close.
func (f *Frontend) streamToEnd(ctx context.Context, conn net.Conn, reader *device.Session, remote string, sessionID uuid.UUID) {
	for {
		chunk, err := f.Surface.Read(ctx, reader, readChunkSize)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logger.Warn("read failed", "remote", remote, "session", sessionID, "err", err)
			return
		}
		if len(chunk) == 0 {
			return
		}
		if _, err := conn.Write(chunk); err != nil {
			logger.Warn("send failed", "remote", remote, "session", sessionID, "err", err)
			return
		}
	}
}

// parseSeekDirective checks for the literal AESDCHAR_IOCSEEKTO:%u,%u\n
// prefix and parses its payload, exactly as aesdsocket.c's strncmp+sscanf
// pair does.
func parseSeekDirective(line []byte) (cmd, off uint32, ok bool) {
	if !bytes.HasPrefix(line, []byte(seekPrefix)) {
		return 0, 0, false
	}
	rest := string(line[len(seekPrefix):])
	n, err := fmt.Sscanf(rest, "%d,%d", &cmd, &off)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return cmd, off, true
}

// runTimestampInjector emits a "timestamp: YYYY-MM-DD HH:MM:SS\n" line into
// the log on every tick until ctx is cancelled, returning as soon as ctx is
// done rather than polling a flag once a second as log_time does.
func (f *Frontend) runTimestampInjector(ctx context.Context) {
	interval := f.TimestampInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	session := f.Surface.Open()
	defer f.Surface.Release(session)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			line := []byte(fmt.Sprintf("timestamp: %s\n", now.Format("2006-01-02 15:04:05")))
			if _, err := f.Surface.Write(ctx, session, line); err != nil {
				logger.Warn("timestamp injection failed", "session", session.ID, "err", err)
				continue
			}
			if f.Persist != nil {
				if err := f.Persist.Append(line); err != nil {
					logger.Warn("timestamp persist failed", "session", session.ID, "err", err)
				}
			}
		}
	}
}
