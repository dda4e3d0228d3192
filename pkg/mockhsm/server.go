package mockhsm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/backkem/yubihsm/pkg/message"
)

// Connector endpoints served by ServeHTTP.
const (
	StatusPath = "/connector/status"
	APIPath    = "/connector/api"
)

// connectorVersion is reported by the status endpoint.
const connectorVersion = "3.0.4"

// ServeHTTP serves the yubihsm-connector status and API endpoints.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case StatusPath:
		d.serveStatus(w, r)
	case APIPath:
		d.serveAPI(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (d *Device) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, serial := "OK", fmt.Sprintf("%010d", d.serial)
	if !d.Connected() {
		status, serial = "NO_DEVICE", "*"
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "status=%s\nserial=%s\nversion=%s\npid=%d\naddress=%s\nport=%d\n",
		status, serial, connectorVersion, 1, "127.0.0.1", 12345)
}

func (d *Device) serveAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !d.Connected() {
		http.Error(w, "no device", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, message.MaxMessageSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rsp := d.Handle(body)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(rsp)
}

// ServeConn answers one command per packet read from conn until conn is
// closed. Packets arriving while the device is disconnected are dropped.
// It returns nil when conn reaches EOF.
func (d *Device) ServeConn(conn net.Conn) error {
	buf := make([]byte, message.MaxMessageSize+1)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !d.Connected() {
			if d.log != nil {
				d.log.Debugf("disconnected, dropping %d bytes", n)
			}
			continue
		}

		if _, err := conn.Write(d.Handle(buf[:n])); err != nil {
			return err
		}
	}
}
