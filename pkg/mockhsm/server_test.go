package mockhsm

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/transport"
	"github.com/google/uuid"
)

func TestServeHTTP_Status(t *testing.T) {
	d := New(Config{Serial: 7})
	srv := httptest.NewServer(d)
	defer srv.Close()

	a, err := transport.NewHTTPAdapter(transport.HTTPConfig{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	status, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.OK() || status.Serial != "0000000007" {
		t.Errorf("Status() = %+v", status)
	}

	d.SetConnected(false)
	if a.IsOpen() {
		t.Error("IsOpen() = true with device disconnected")
	}
	if _, err := a.SendMessage(context.Background(), uuid.New(), []byte{0x01, 0x00, 0x00}); err == nil {
		t.Error("SendMessage() succeeded with device disconnected")
	}

	d.SetConnected(true)
	if !a.IsOpen() {
		t.Error("IsOpen() = false after reconnect")
	}
}

func TestServeHTTP_API(t *testing.T) {
	d := New(Config{})
	srv := httptest.NewServer(d)
	defer srv.Close()

	a, err := transport.HTTPConfig{URL: srv.URL}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	req, _ := message.NewCommand(message.CommandBlinkDevice, nil).Encode()
	b, err := a.SendMessage(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	rsp, err := message.ParseResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Code != message.ErrorCodeInvalidCommand {
		t.Errorf("Code = %v, want %v", rsp.Code, message.ErrorCodeInvalidCommand)
	}
}

func TestServeHTTP_Routes(t *testing.T) {
	d := New(Config{})
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, StatusPath, http.StatusOK},
		{http.MethodPost, StatusPath, http.StatusMethodNotAllowed},
		{http.MethodGet, APIPath, http.StatusMethodNotAllowed},
		{http.MethodGet, "/other", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			d.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServeConn(t *testing.T) {
	d := New(Config{})
	pipe := transport.NewPipe()

	done := make(chan error, 1)
	go func() { done <- d.ServeConn(pipe.DeviceConn()) }()

	a, err := transport.PipeAdapterConfig{Pipe: pipe}.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := message.NewCommand(message.CommandBlinkDevice, nil).Encode()
	b, err := a.SendMessage(ctx, uuid.New(), req)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	want, _ := message.NewErrorResponse(message.ErrorCodeInvalidCommand).Encode()
	if !bytes.Equal(b, want) {
		t.Errorf("response = %x, want %x", b, want)
	}

	pipe.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeConn() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ServeConn() did not return after close")
	}
}

func TestServeConn_Disconnected(t *testing.T) {
	d := New(Config{})
	d.SetConnected(false)
	pipe := transport.NewPipe()
	defer pipe.Close()
	go d.ServeConn(pipe.DeviceConn())

	a, _ := transport.PipeAdapterConfig{Pipe: pipe}.Open(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := message.NewCommand(message.CommandEcho, []byte{1}).Encode()
	if _, err := a.SendMessage(ctx, uuid.New(), req); err == nil {
		t.Error("SendMessage() succeeded with device disconnected")
	}
}
