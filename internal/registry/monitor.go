package registry

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option is a function that configures the link monitor.
type Option func(*options)

// WithLog configures the link monitor with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithOnChange configures a hook fired after the interface or VRF table
// changed.
func WithOnChange(fn func()) Option {
	return func(o *options) {
		o.OnChange = fn
	}
}

type options struct {
	Log      *zap.SugaredLogger
	OnChange func()
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// LinkMonitor keeps the interface and VRF registries synchronized with the
// kernel's link table, both reactively via a netlink subscription and with
// a synchronous bootstrap.
type LinkMonitor struct {
	ifaces   *Ifaces
	vrfs     *VRFs
	onChange func()
	log      *zap.SugaredLogger
}

// NewLinkMonitor creates a new link monitor feeding the given registries.
func NewLinkMonitor(ifaces *Ifaces, vrfs *VRFs, options ...Option) *LinkMonitor {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &LinkMonitor{
		ifaces:   ifaces,
		vrfs:     vrfs,
		onChange: opts.OnChange,
		log:      opts.Log,
	}

	// Bootstrap synchronously here.
	if err := m.update(); err != nil {
		m.log.Warnw("failed to bootstrap link registries", zap.Error(err))
	}
	return m
}

// Run runs the link monitor until the specified context is canceled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.log.Debugf("starting link monitor")
	defer m.log.Debugf("stopped link monitor")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.runSubscription(ctx)
	})

	return wg.Wait()
}

func (m *LinkMonitor) runSubscription(ctx context.Context) error {
	txRx := make(chan netlink.LinkUpdate, 1)
	opts := netlink.LinkSubscribeOptions{}
	if err := netlink.LinkSubscribeWithOptions(txRx, ctx.Done(), opts); err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-txRx:
			if err := m.update(); err != nil {
				m.log.Warnw("failed to process link update", zap.Error(err))
			}
		}
	}
}

// update rebuilds both registries from a full link list and swaps them
// atomically. VRF membership is derived from the master-device index.
func (m *LinkMonitor) update() error {
	links, err := netlink.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	vrfs := map[string]VRF{}
	vrfNameByIndex := map[int]string{}
	for _, link := range links {
		vrf, ok := link.(*netlink.Vrf)
		if !ok {
			continue
		}
		attrs := vrf.Attrs()
		vrfs[attrs.Name] = VRF{
			Name:  attrs.Name,
			ID:    uint32(attrs.Index),
			Table: vrf.Table,
		}
		vrfNameByIndex[attrs.Index] = attrs.Name
	}

	ifaces := map[string]Iface{}
	for _, link := range links {
		attrs := link.Attrs()
		ifaces[attrs.Name] = Iface{
			Name:  attrs.Name,
			Index: attrs.Index,
			VRF:   vrfNameByIndex[attrs.MasterIndex],
		}
	}

	m.vrfs.Swap(vrfs)
	m.ifaces.Swap(ifaces)
	m.log.Debugf("updated link registries: %d interfaces, %d vrfs", len(ifaces), len(vrfs))

	if m.onChange != nil {
		m.onChange()
	}
	return nil
}
