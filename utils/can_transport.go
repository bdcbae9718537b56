package utils

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader defines the interface for reading CAN frames
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := w.tx.TransmitFrame(ctx, frame); err != nil {
		return errors.Wrapf(err, "socketcan transmit 0x%X", frame.ID)
	}
	return nil
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// SocketCANReader receives frames on one goroutine owned by the caller.
type SocketCANReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	return &SocketCANReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}, nil
}

// ReadFrame blocks until a data frame arrives. Cancelling ctx closes the
// socket, which unblocks the pending receive.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	for r.recv.Receive() {
		if r.recv.HasErrorFrame() {
			continue
		}
		return r.recv.Frame(), nil
	}
	if ctx.Err() != nil {
		return can.Frame{}, ctx.Err()
	}
	if err := r.recv.Err(); err != nil {
		return can.Frame{}, errors.Wrap(err, "socketcan receive")
	}
	return can.Frame{}, errors.New("socketcan receive: connection closed")
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
