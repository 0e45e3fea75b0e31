package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
)

func drain(t *testing.T, ctx context.Context, surf *Surface, sess *Session) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := surf.Read(ctx, sess, 1024)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, chunk...)
	}
}

func TestBasicAppendAndRead(t *testing.T) {
	ctx := context.Background()
	surf := New(10, 0)
	writer := surf.Open()
	defer surf.Release(writer)

	if n, err := surf.Write(ctx, writer, []byte("hello\n")); err != nil || n != 6 {
		t.Fatalf("write = %d, %v", n, err)
	}

	reader := surf.Open()
	defer surf.Release(reader)
	got := drain(t, ctx, surf, reader)
	if string(got) != "hello\n" {
		t.Fatalf("drained = %q, want %q", got, "hello\n")
	}
}

func TestEvictionEndToEnd(t *testing.T) {
	ctx := context.Background()
	surf := New(10, 0)
	w := surf.Open()
	for i := 1; i <= 11; i++ {
		payload := []byte("L" + itoa(i) + "\n")
		if _, err := surf.Write(ctx, w, payload); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if _, err := surf.Write(ctx, w, []byte("x\n")); err != nil {
		t.Fatalf("write x: %v", err)
	}

	r := surf.Open()
	got := drain(t, ctx, surf, r)
	// 12 commands into a 10-slot ring: L01 and L02 are both evicted.
	want := "L03\nL04\nL05\nL06\nL07\nL08\nL09\nL10\nL11\nx\n"
	if string(got) != want {
		t.Fatalf("drained = %q, want %q", got, want)
	}
	if len(got) != 40 {
		t.Fatalf("len = %d, want 40", len(got))
	}
}

func itoa(i int) string {
	if i < 10 {
		return "0" + string(rune('0'+i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestSeekDirectiveDoesNotAppendEntry(t *testing.T) {
	ctx := context.Background()
	surf := New(10, 0)
	w := surf.Open()
	for _, cmd := range []string{"write1\n", "write2\n", "write3\n"} {
		if _, err := surf.Write(ctx, w, []byte(cmd)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	r := surf.Open()
	if err := surf.SeekToCommand(ctx, r, 1, 2); err != nil {
		t.Fatalf("seek_to_command: %v", err)
	}
	got := drain(t, ctx, surf, r)
	if string(got) != "ite2\nwrite3\n" {
		t.Fatalf("drained = %q, want %q", got, "ite2\nwrite3\n")
	}

	// The log must be unchanged by the seek itself.
	r2 := surf.Open()
	all := drain(t, ctx, surf, r2)
	if string(all) != "write1\nwrite2\nwrite3\n" {
		t.Fatalf("log contents changed by seek: %q", all)
	}
}

func TestSeekOutOfRangeIsInvalid(t *testing.T) {
	ctx := context.Background()
	surf := New(10, 0)
	w := surf.Open()
	for _, cmd := range []string{"write1\n", "write2\n", "write3\n"} {
		surf.Write(ctx, w, []byte(cmd))
	}
	r := surf.Open()
	if err := surf.SeekToCommand(ctx, r, 5, 0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("seek(5,0) = %v, want ErrInvalid", err)
	}
}

func TestInterruptedLockReturnsNoSideEffects(t *testing.T) {
	surf := New(10, 0)
	w := surf.Open()

	// Hold the lock so the write below must wait on ctx.Done() instead.
	<-surf.sem
	defer func() { surf.sem <- struct{}{} }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := surf.Write(ctx, w, []byte("x\n")); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("write with cancelled ctx and held lock = %v, want ErrInterrupted", err)
	}
	if pending := surf.asm.Pending(); len(pending) != 0 {
		t.Fatalf("assembler holds %q after interrupted write, want empty", pending)
	}
	if size := surf.log.TotalSize(); size != 0 {
		t.Fatalf("log size = %d after interrupted write, want 0", size)
	}
}

func TestConcurrentWritesAreAtomic(t *testing.T) {
	ctx := context.Background()
	surf := New(1000, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := surf.Open()
			surf.Write(ctx, w, []byte("line\n"))
		}(i)
	}
	wg.Wait()

	r := surf.Open()
	got := drain(t, ctx, surf, r)
	if !bytes.Contains(got, []byte("line\n")) {
		t.Fatalf("expected at least one full line")
	}
	if len(got)%5 != 0 {
		t.Fatalf("torn entries detected: len=%d not a multiple of 5", len(got))
	}
}
