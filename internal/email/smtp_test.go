package email

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPRelayUnreachableIsTransient(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	relay := &SMTPRelay{Host: "127.0.0.1", Port: port}
	err = relay.Send(context.Background(), Message{From: "a@x.com", To: "b@y.com", Subject: "s", Body: "b"}, "")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSMTPRelayHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&SMTPRelay{Host: "127.0.0.1", Port: 1}).Send(ctx, Message{}, "")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestSMTPRelayStalledSessionTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	// accept and never send the 220 greeting
	conns := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			conns <- c
		}
	}()
	t.Cleanup(func() {
		select {
		case c := <-conns:
			c.Close()
		default:
		}
	})

	relay := &SMTPRelay{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port, Timeout: 100 * time.Millisecond}

	start := time.Now()
	err = relay.Send(context.Background(), Message{From: "a@x.com", To: "b@y.com", Subject: "s", Body: "b"}, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}
