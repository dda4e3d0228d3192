package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
)

// echoDevice answers every packet on conn with the same bytes.
func echoDevice(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}

func openPipeAdapter(t *testing.T, p *Pipe) Adapter {
	t.Helper()
	a, err := PipeAdapterConfig{Pipe: p}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return a
}

// TestPipe_AutoProcess verifies that packets flow automatically by default.
func TestPipe_AutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if !p.AutoProcess() {
		t.Fatal("AutoProcess should be true by default")
	}

	testData := []byte("auto-delivered message")
	done := make(chan []byte, 1)

	go func() {
		buf := make([]byte, 100)
		n, _ := p.DeviceConn().Read(buf)
		done <- buf[:n]
	}()

	time.Sleep(10 * time.Millisecond)
	p.HostConn().Write(testData)

	select {
	case got := <-done:
		if !bytes.Equal(got, testData) {
			t.Errorf("got %q, want %q", got, testData)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout - auto-process may not be working")
	}
}

// TestPipe_ManualProcess verifies that manual processing works when
// auto-process is disabled.
func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}

	done := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, 100)
		p.DeviceConn().Read(buf)
		done <- struct{}{}
	}()

	time.Sleep(10 * time.Millisecond)
	p.HostConn().Write([]byte("manual"))

	select {
	case <-done:
		t.Fatal("packet delivered without Process()")
	case <-time.After(50 * time.Millisecond):
	}

	p.Process()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout after Process()")
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Error("AutoProcess should be false after disabling")
	}
	p.SetAutoProcess(true)
	if !p.AutoProcess() {
		t.Error("AutoProcess should be true after enabling")
	}
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe()

	if p.IsClosed() {
		t.Fatal("new pipe reports closed")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !p.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestPipeConfig_Defaults(t *testing.T) {
	config := DefaultPipeConfig()
	if !config.AutoProcess {
		t.Error("default AutoProcess should be true")
	}
	if config.ProcessInterval != time.Millisecond {
		t.Errorf("default ProcessInterval = %v, want 1ms", config.ProcessInterval)
	}
}

func TestPipeAdapter_SendMessage(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())

	a := openPipeAdapter(t, p)
	defer a.Close()

	if !a.IsOpen() {
		t.Fatal("IsOpen() = false on a fresh adapter")
	}

	for _, msg := range [][]byte{
		{0x01, 0x00, 0x00},
		bytes.Repeat([]byte{0x42}, 2048),
	} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, err := a.SendMessage(ctx, uuid.New(), msg)
		cancel()
		if err != nil {
			t.Fatalf("SendMessage() error: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("SendMessage() returned %d bytes, want %d", len(got), len(msg))
		}
	}
}

func TestPipeAdapter_TooLarge(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	a := openPipeAdapter(t, p)

	_, err := a.SendMessage(context.Background(), uuid.New(), make([]byte, 2049))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("SendMessage() error = %v, want %v", err, ErrMessageTooLarge)
	}
}

// TestPipeAdapter_Dropped verifies a lost packet surfaces as a timeout
// while the adapter stays healthy.
func TestPipeAdapter_Dropped(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())

	a := openPipeAdapter(t, p)
	p.DropNextWrites(HostEndpoint, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.SendMessage(ctx, uuid.New(), []byte{0x01, 0x00, 0x00})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendMessage() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if !a.IsOpen() {
		t.Error("IsOpen() = false after a dropped packet")
	}

	// The next exchange goes through.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if _, err := a.SendMessage(ctx2, uuid.New(), []byte{0x01, 0x00, 0x00}); err != nil {
		t.Errorf("SendMessage() after drop error: %v", err)
	}
}

func TestPipeAdapter_Cancel(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	// No device: nothing ever answers.
	a := openPipeAdapter(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.SendMessage(ctx, uuid.New(), []byte{0x01, 0x00, 0x00})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SendMessage() error = %v, want %v", err, context.Canceled)
	}
}

// TestPipeAdapter_Unplugged verifies a closed pipe makes the adapter
// unhealthy and prevents reopening.
func TestPipeAdapter_Unplugged(t *testing.T) {
	p := NewPipe()
	a := openPipeAdapter(t, p)

	p.Close()

	if a.IsOpen() {
		t.Error("IsOpen() = true after pipe closed")
	}
	if _, err := a.SendMessage(context.Background(), uuid.New(), []byte{0x01, 0x00, 0x00}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendMessage() error = %v, want %v", err, ErrClosed)
	}
	if _, err := (PipeAdapterConfig{Pipe: p}).Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() error = %v, want %v", err, ErrClosed)
	}
}

func TestPipeAdapter_CloseKeepsPipe(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())

	a := openPipeAdapter(t, p)
	a.Close()
	if a.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}

	b := openPipeAdapter(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.SendMessage(ctx, uuid.New(), []byte{0x01, 0x00, 0x00}); err != nil {
		t.Errorf("SendMessage() on reopened adapter error: %v", err)
	}
}

func TestNetworkCondition_DropRate(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())

	p.SetCondition(NetworkCondition{DropRate: 1.0})
	if p.Condition().DropRate != 1.0 {
		t.Fatalf("Condition().DropRate = %v, want 1.0", p.Condition().DropRate)
	}

	a := openPipeAdapter(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := a.SendMessage(ctx, uuid.New(), []byte{0x01, 0x00, 0x00}); err == nil {
		t.Error("SendMessage() succeeded with DropRate 1.0")
	}
}

func TestNetworkCondition_Delay(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())

	p.SetCondition(NetworkCondition{DelayMin: 20 * time.Millisecond, DelayMax: 20 * time.Millisecond})
	a := openPipeAdapter(t, p)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.SendMessage(ctx, uuid.New(), []byte{0x01, 0x00, 0x00}); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("exchange took %v, want at least 20ms", elapsed)
	}
}

// lateDevice answers the first packet only after delay and echoes every
// later packet at once.
func lateDevice(conn net.Conn, delay time.Duration) {
	buf := make([]byte, 4096)
	for first := true; ; first = false {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if first {
			time.Sleep(delay)
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}

func waitPending(t *testing.T, p *Pipe, endpoint, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.Pending(endpoint) != want {
		if time.Now().After(deadline) {
			t.Fatalf("Pending(%d) = %d, want %d", endpoint, p.Pending(endpoint), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeAdapter_DiscardsLateReply(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go lateDevice(p.DeviceConn(), 100*time.Millisecond)

	a := openPipeAdapter(t, p)
	first := []byte{0x01, 0x00, 0x01, 0xaa}
	second := []byte{0x01, 0x00, 0x01, 0xbb}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.SendMessage(ctx, uuid.New(), first); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendMessage() error = %v, want %v", err, context.DeadlineExceeded)
	}
	waitPending(t, p, DeviceEndpoint, 1)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got, err := a.SendMessage(ctx2, uuid.New(), second)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("SendMessage() = %x, want %x", got, second)
	}
	if n := p.Pending(DeviceEndpoint); n != 0 {
		t.Errorf("Pending() = %d after exchange, want 0", n)
	}
}

func TestPipe_Filter(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	go echoDevice(p.DeviceConn())
	a := openPipeAdapter(t, p)

	// Replies starting with 0xff are lost.
	p.Filter(DeviceEndpoint, func(b []byte) bool { return len(b) == 0 || b[0] != 0xff })

	tests := []struct {
		name string
		msg  []byte
		lost bool
	}{
		{"kept", []byte{0x01, 0x00, 0x00}, false},
		{"filtered", []byte{0xff, 0x00, 0x00}, true},
		{"kept after filtered", []byte{0x02, 0x00, 0x00}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			got, err := a.SendMessage(ctx, uuid.New(), tc.msg)
			if tc.lost {
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Fatalf("SendMessage() error = %v, want %v", err, context.DeadlineExceeded)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}
			if !bytes.Equal(got, tc.msg) {
				t.Errorf("SendMessage() = %x, want %x", got, tc.msg)
			}
		})
	}

	p.Filter(DeviceEndpoint, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.SendMessage(ctx, uuid.New(), []byte{0xff, 0x00, 0x00}); err != nil {
		t.Errorf("SendMessage() after removing filter error = %v", err)
	}
}
