package kernel

import (
	"context"
	"fmt"
	"syscall"

	"go.uber.org/zap"

	"github.com/routeplane/pbrd/internal/fibrule"
)

// DeleteHandler consumes deletions-of-interest decoded from the kernel's
// rule notifications.
type DeleteHandler interface {
	HandleRuleDeleted(r fibrule.Rule)
}

// IfaceSet answers whether an interface name is known locally.
type IfaceSet interface {
	Exists(name string) bool
}

// Option is a function that configures the sync layer.
type Option func(*options)

// WithLog configures the sync layer with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Sync turns rule descriptors into blocking kernel transactions and rule
// notifications into reconciliation events. It owns no policy state.
type Sync struct {
	transport Transport
	ifaces    IfaceSet
	handler   DeleteHandler
	log       *zap.SugaredLogger
}

// NewSync creates the sync layer on top of the given transport. The
// interface set gates which rule deletions are of interest.
func NewSync(transport Transport, ifaces IfaceSet, options ...Option) *Sync {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Sync{
		transport: transport,
		ifaces:    ifaces,
		log:       opts.Log,
	}
}

// SetDeleteHandler wires the consumer of deletion events. It must be called
// before Run.
func (s *Sync) SetDeleteHandler(h DeleteHandler) {
	s.handler = h
}

// Install programs one rule into the kernel, blocking for the result.
func (s *Sync) Install(r fibrule.Rule) error {
	return s.transact(fibrule.OpAdd, r)
}

// Remove withdraws one rule from the kernel, blocking for the result.
func (s *Sync) Remove(r fibrule.Rule) error {
	return s.transact(fibrule.OpDelete, r)
}

func (s *Sync) transact(op fibrule.Op, r fibrule.Rule) error {
	req, err := fibrule.Encode(r, op)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	s.log.Debugf("Tx %s [%s]", op, r)
	if err := s.transport.Send(req); err != nil {
		txFailures.WithLabelValues(op.String()).Inc()
		return fmt.Errorf("kernel refused %s: %w", op, err)
	}
	txTotal.WithLabelValues(op.String()).Inc()
	return nil
}

// Run consumes rule notifications until the context is canceled.
func (s *Sync) Run(ctx context.Context) error {
	s.log.Debugf("starting kernel rule sync")
	defer s.log.Debugf("stopped kernel rule sync")

	ch := make(chan syscall.NetlinkMessage, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- s.transport.Notifications(ctx, ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case m := <-ch:
			s.handleMessage(m)
		}
	}
}

func (s *Sync) handleMessage(m syscall.NetlinkMessage) {
	r, op, ok := fibrule.Decode(m)
	if !ok {
		return
	}
	s.log.Debugf("Rx %s [%s]", op, r)

	// Additions are not acted upon; the kernel cannot configure us.
	if op != fibrule.OpDelete {
		return
	}
	// If we don't know the interface, we don't care.
	if !s.ifaces.Exists(r.Ifname) {
		return
	}

	reconcileEvents.Inc()
	if s.handler != nil {
		s.handler.HandleRuleDeleted(r)
	}
}
