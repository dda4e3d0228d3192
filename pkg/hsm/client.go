package hsm

import (
	"context"
	"encoding"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/yubihsm/pkg/command"
	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
	"github.com/backkem/yubihsm/pkg/session"
)

// Client is a YubiHSM2 client. It is safe for concurrent use; commands are
// sent one at a time.
type Client struct {
	config ClientConfig
	log    logging.LeveledLogger

	mu   sync.Mutex
	conn *session.Connection
}

// NewClient creates a client. No connection is made until Open or the
// first command.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{
		config: config,
		conn: session.NewConnection(session.Config{
			Opener:        config.Opener,
			MessageLimit:  config.MessageLimit,
			LoggerFactory: config.LoggerFactory,
		}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("hsm")
	}
	return c, nil
}

// Open establishes a new authenticated session, replacing any current one.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Client) openLocked(ctx context.Context) error {
	if err := c.conn.Open(ctx, c.config.Credentials); err != nil {
		return err
	}
	if c.log != nil {
		id, _ := c.conn.ID()
		c.log.Infof("session %d open", id)
	}
	return nil
}

// Close ends the session and releases the transport. A later command
// opens a new session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close(ctx)
}

// IsOpen reports whether a session is ready for commands.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.IsOpen()
}

// SessionID returns the ID of the current session.
func (c *Client) SessionID() (message.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.ID()
}

// send runs one command, reopening the session first if needed, and
// decodes the response into out.
func (c *Client) send(ctx context.Context, cmd command.Command, out encoding.BinaryUnmarshaler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.conn.IsOpen() {
		if c.log != nil && c.conn.State() != session.StateClosed {
			c.log.Debugf("session gone (%s), reopening", c.conn.State())
		}
		if err := c.openLocked(ctx); err != nil {
			return err
		}
	}

	msg, err := command.Message(cmd)
	if err != nil {
		return err
	}
	rsp, err := c.conn.SendMessage(ctx, msg)
	if err != nil {
		return err
	}
	return command.Decode(rsp, cmd.CommandType(), out)
}

// Echo sends data to the device and returns what it echoed.
func (c *Client) Echo(ctx context.Context, data []byte) ([]byte, error) {
	var rsp command.EchoResponse
	if err := c.send(ctx, command.Echo{Data: data}, &rsp); err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

// DeviceInfo returns the firmware version, serial and algorithms.
func (c *Client) DeviceInfo(ctx context.Context) (*command.DeviceInfoResponse, error) {
	var rsp command.DeviceInfoResponse
	if err := c.send(ctx, command.DeviceInfo{}, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// ListObjects returns the objects matching filter.
func (c *Client) ListObjects(ctx context.Context, filter command.ListObjects) ([]command.ListEntry, error) {
	var rsp command.ListObjectsResponse
	if err := c.send(ctx, filter, &rsp); err != nil {
		return nil, err
	}
	return rsp.Objects, nil
}

// GetObjectInfo returns the metadata of one object.
func (c *Client) GetObjectInfo(ctx context.Context, id object.ID, t object.Type) (*command.ObjectInfo, error) {
	var rsp command.ObjectInfo
	req := command.GetObjectInfo{ObjectRef: command.ObjectRef{ID: id, Type: t}}
	if err := c.send(ctx, req, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// DeleteObject removes one object.
func (c *Client) DeleteObject(ctx context.Context, id object.ID, t object.Type) error {
	req := command.DeleteObject{ObjectRef: command.ObjectRef{ID: id, Type: t}}
	return c.send(ctx, req, &command.DeleteObjectResponse{})
}

// GenerateAsymmetricKey creates a key pair and returns its ID.
func (c *Client) GenerateAsymmetricKey(ctx context.Context, req command.GenerateAsymmetricKey) (object.ID, error) {
	var rsp command.GenerateAsymmetricKeyResponse
	if err := c.send(ctx, req, &rsp); err != nil {
		return 0, err
	}
	return rsp.ID, nil
}
