package pbrd

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/routeplane/pbrd/internal/api"
	"github.com/routeplane/pbrd/internal/kernel"
	"github.com/routeplane/pbrd/internal/policy"
	"github.com/routeplane/pbrd/internal/registry"
)

type options struct {
	Log       *zap.SugaredLogger
	Transport kernel.Transport
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DaemonOption is a function that configures the daemon.
type DaemonOption func(*options)

// WithLog sets the daemon logger.
func WithLog(log *zap.SugaredLogger) DaemonOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithTransport overrides the kernel transport. Used by tests to run the
// daemon against a fake kernel.
func WithTransport(t kernel.Transport) DaemonOption {
	return func(o *options) {
		o.Transport = t
	}
}

// Daemon is the policy-based-routing control plane: it owns the policy
// model, the registries it resolves against, the kernel sync layer and the
// status API, and keeps the kernel's rule table converged on the declared
// policy.
type Daemon struct {
	cfg *Config

	model   *policy.Model
	groups  *registry.NexthopGroups
	monitor *registry.LinkMonitor
	sync    *kernel.Sync
	api     *api.Server

	log *zap.SugaredLogger
}

// NewDaemon wires the daemon from the given config and applies the declared
// policy through the model's mutation operations.
func NewDaemon(cfg *Config, options ...DaemonOption) (*Daemon, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	log := opts.Log

	log.Infof("initializing pbrd ...")

	ifaces := registry.NewIfaces()
	vrfs := registry.NewVRFs()
	groups := registry.NewNexthopGroups()

	transport := opts.Transport
	if transport == nil {
		transport = kernel.NewNetlinkTransport(log)
	}
	sync := kernel.NewSync(transport, ifaces, kernel.WithLog(log))

	model := policy.NewModel(groups, ifaces, vrfs, sync, policy.WithLog(log))
	sync.SetDeleteHandler(model)
	groups.SetOnChange(model.Revalidate)

	monitor := registry.NewLinkMonitor(ifaces, vrfs,
		registry.WithLog(log),
		registry.WithOnChange(model.Revalidate),
	)

	d := &Daemon{
		cfg:     cfg,
		model:   model,
		groups:  groups,
		monitor: monitor,
		sync:    sync,
		api:     api.NewServer(cfg.API.Addr, model, ifaces, vrfs, groups, api.WithLog(log)),
		log:     log,
	}

	if err := d.applyConfig(); err != nil {
		return nil, fmt.Errorf("failed to apply declared policy: %w", err)
	}
	return d, nil
}

// Model exposes the policy model for embedding consumers.
func (d *Daemon) Model() *policy.Model {
	return d.model
}

// applyConfig replays the declared policy through the mutation operations,
// the way an operator would enter it.
func (d *Daemon) applyConfig() error {
	for _, g := range d.cfg.NexthopGroups {
		if err := d.groups.Define(g.Name, g.Table, g.Nexthops); err != nil {
			return fmt.Errorf("nexthop-group %q: %w", g.Name, err)
		}
	}

	for _, mc := range d.cfg.Maps {
		for _, sc := range mc.Sequences {
			if err := d.applySequence(mc.Name, sc); err != nil {
				return fmt.Errorf("pbr-map %q seq %d: %w", mc.Name, sc.Seq, err)
			}
		}
	}

	for _, b := range d.cfg.Interfaces {
		if err := d.model.BindInterface(b.Interface, b.Map); err != nil {
			return fmt.Errorf("interface %q: %w", b.Interface, err)
		}
	}
	return nil
}

func (d *Daemon) applySequence(mapName string, sc SequenceConfig) error {
	d.model.EnsureSequence(mapName, sc.Seq)

	if sc.MatchSrc != "" {
		prefix, err := netip.ParsePrefix(sc.MatchSrc)
		if err != nil {
			return fmt.Errorf("match_src: %w", err)
		}
		if err := d.model.SetSrcMatch(mapName, sc.Seq, prefix); err != nil {
			return err
		}
	}
	if sc.MatchDst != "" {
		prefix, err := netip.ParsePrefix(sc.MatchDst)
		if err != nil {
			return fmt.Errorf("match_dst: %w", err)
		}
		if err := d.model.SetDstMatch(mapName, sc.Seq, prefix); err != nil {
			return err
		}
	}

	if sc.NexthopGroup != "" && sc.Nexthop != nil {
		return fmt.Errorf("nexthop_group and nexthop are mutually exclusive")
	}
	if sc.NexthopGroup != "" {
		return d.model.SetNexthopGroup(mapName, sc.Seq, sc.NexthopGroup)
	}
	if sc.Nexthop != nil {
		gw, err := netip.ParseAddr(sc.Nexthop.Gateway)
		if err != nil {
			return fmt.Errorf("nexthop gateway: %w", err)
		}
		return d.model.AddNexthop(mapName, sc.Seq, gw, sc.Nexthop.Interface, sc.Nexthop.VRF)
	}
	return nil
}

// Run runs the daemon until the specified context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return d.monitor.Run(ctx)
	})
	wg.Go(func() error {
		return d.sync.Run(ctx)
	})
	wg.Go(func() error {
		return d.api.Run(ctx)
	})
	return wg.Wait()
}
