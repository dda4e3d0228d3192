package hsm

import (
	"github.com/backkem/yubihsm/pkg/mockhsm"
	"github.com/backkem/yubihsm/pkg/transport"
)

// TestBench is a client wired to a simulated device over an in-memory
// pipe.
type TestBench struct {
	Client *Client
	Device *mockhsm.Device
	Pipe   *transport.Pipe
}

// NewTestBench creates a simulated device holding the factory default
// key and a client connected to it. The Opener in config is replaced.
//
// Example:
//
//	bench, _ := hsm.NewTestBench(hsm.ClientConfig{})
//	defer bench.Close()
//	out, _ := bench.Client.Echo(ctx, []byte("ping"))
func NewTestBench(config ClientConfig) (*TestBench, error) {
	dev := mockhsm.New(mockhsm.Config{LoggerFactory: config.LoggerFactory})
	pipe := transport.NewPipe()
	go dev.ServeConn(pipe.DeviceConn())

	config.Opener = transport.PipeAdapterConfig{
		Pipe:          pipe,
		LoggerFactory: config.LoggerFactory,
	}
	client, err := NewClient(config)
	if err != nil {
		pipe.Close()
		return nil, err
	}
	return &TestBench{Client: client, Device: dev, Pipe: pipe}, nil
}

// Close unplugs the simulated device.
func (b *TestBench) Close() error {
	return b.Pipe.Close()
}
