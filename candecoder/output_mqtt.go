package candecoder

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {id}, replaced by the record's CAN id in hex.
	Topic   string
	QoS     byte
	Retain  bool
	Timeout time.Duration
}

// MQTTWriter publishes every record as JSON.
type MQTTWriter struct {
	cfg    MQTTConfig
	client *paho.Client
}

func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTWriter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, ioError(err, "connect to %s", cfg.Broker)
	}

	conn = packets.NewThreadSafeConn(conn)

	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
	})
	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   cfg.ClientID,
		CleanStart: true,
		Username:   cfg.Username,
		Password:   []byte(cfg.Password),
	}
	if cfg.Username != "" {
		cp.UsernameFlag = true
	}
	if cfg.Password != "" {
		cp.PasswordFlag = true
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		return nil, ioError(err, "mqtt connect %s", cfg.Broker)
	}
	if ca.ReasonCode != 0 {
		_ = conn.Close()
		reason := ""
		if ca.Properties != nil {
			reason = ca.Properties.ReasonString
		}
		return nil, errors.Mark(errors.Newf("mqtt connect %s: %d - %s", cfg.Broker, ca.ReasonCode, reason), ErrIO)
	}
	return &MQTTWriter{cfg: cfg, client: client}, nil
}

// TopicFor expands the topic template for one record.
func (c MQTTConfig) TopicFor(rec CANData) string {
	return strings.ReplaceAll(c.Topic, "{id}", fmt.Sprintf("%X", rec.CANID))
}

func (w *MQTTWriter) WriteRecord(rec CANData) error {
	payload, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	_, err = w.client.Publish(ctx, &paho.Publish{
		Topic:   w.cfg.TopicFor(rec),
		QoS:     w.cfg.QoS,
		Retain:  w.cfg.Retain,
		Payload: payload,
	})
	return err
}

func (w *MQTTWriter) Close() error {
	return w.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
