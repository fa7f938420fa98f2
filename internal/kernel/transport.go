// Package kernel is the synchronization layer between the policy model and
// the kernel rule table: it ships encoded rule transactions over netlink,
// blocks for their acknowledgement, and feeds rule notifications back into
// the model's reconciliation path.
package kernel

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vishvananda/netlink/nl"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Transport is the send-and-await-ack primitive plus the notification
// stream. The real implementation talks NETLINK_ROUTE; tests substitute a
// fake.
type Transport interface {
	// Send ships an encoded request and blocks until the kernel
	// acknowledges or rejects it. There is no implicit retry.
	Send(req *nl.NetlinkRequest) error
	// Notifications delivers raw rule-table notifications into ch until the
	// context is canceled.
	Notifications(ctx context.Context, ch chan<- syscall.NetlinkMessage) error
}

// netlinkTransport is the NETLINK_ROUTE-backed transport.
type netlinkTransport struct {
	log *zap.SugaredLogger
}

// NewNetlinkTransport returns a transport backed by the host's
// NETLINK_ROUTE socket, subscribed to the IPv4 and IPv6 rule groups.
func NewNetlinkTransport(log *zap.SugaredLogger) Transport {
	return &netlinkTransport{log: log}
}

func (t *netlinkTransport) Send(req *nl.NetlinkRequest) error {
	_, err := req.Execute(unix.NETLINK_ROUTE, 0)
	return err
}

func (t *netlinkTransport) Notifications(ctx context.Context, ch chan<- syscall.NetlinkMessage) error {
	retry := backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	}
	retry.Reset()

	for {
		sock, err := nl.Subscribe(unix.NETLINK_ROUTE, unix.RTNLGRP_IPV4_RULE, unix.RTNLGRP_IPV6_RULE)
		if err == nil {
			retry.Reset()
			err = t.receive(ctx, sock, ch)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := retry.NextBackOff()
		t.log.Warnw("rule notification socket failed, reconnecting",
			zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (t *netlinkTransport) receive(ctx context.Context, sock *nl.NetlinkSocket, ch chan<- syscall.NetlinkMessage) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		// Receive has no deadline; closing the socket is the only way to
		// unblock it on shutdown.
		select {
		case <-ctx.Done():
			sock.Close()
		case <-done:
			sock.Close()
		}
	}()

	for {
		msgs, _, err := sock.Receive()
		if err != nil {
			return fmt.Errorf("failed to receive rule notifications: %w", err)
		}
		for _, m := range msgs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- m:
			}
		}
	}
}
