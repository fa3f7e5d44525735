// Package zmqlink mirrors stream events onto a ZeroMQ PUB socket and reads
// them back with SUB, as an alternative to the websocket transport.
package zmqlink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"moro/internal/types"
	"moro/internal/wire"
)

const recvPoll = 250 * time.Millisecond

type Publisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket
}

// NewPublisher binds a PUB socket, e.g. on tcp://*:31001.
func NewPublisher(endpoint string) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	// frames are superseded quickly; never queue many for slow subscribers
	if err := socket.SetSndhwm(4); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}
	return &Publisher{socket: socket}, nil
}

func (p *Publisher) Publish(ev types.Event) error {
	payload, err := wire.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return fmt.Errorf("publisher is closed")
	}
	_, err = p.socket.SendBytes(payload, zmq4.DONTWAIT)
	if err != nil && zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
		return nil
	}
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}

// Subscribe connects a SUB socket and streams decoded events until ctx ends.
// Undecodable messages are logged every logEvery occurrences and skipped.
func Subscribe(ctx context.Context, endpoint string, logEvery int, logger *slog.Logger) (<-chan types.Event, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetSubscribe(""); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvPoll); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	log := logger.With("component", "zmqlink", "endpoint", endpoint)
	failures := 0
	out := make(chan types.Event, 16)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				failures++
				if failures%logEvery == 0 {
					log.Warn("recv error", "error", err, "failures", failures)
				}
				continue
			}

			ev, err := wire.Unmarshal(msg)
			if err != nil {
				failures++
				if failures%logEvery == 0 {
					log.Warn("decode error", "error", err, "failures", failures)
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()

	return out, nil
}
