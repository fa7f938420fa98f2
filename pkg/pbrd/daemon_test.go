package pbrd

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink/nl"

	"github.com/routeplane/pbrd/internal/fibrule"
)

// fakeKernel acks every transaction and keeps the decoded rule log.
type fakeKernel struct {
	txns []struct {
		Op   fibrule.Op
		Rule fibrule.Rule
	}
}

func (k *fakeKernel) Send(req *nl.NetlinkRequest) error {
	msgs, err := syscall.ParseNetlinkMessage(req.Serialize())
	if err != nil {
		return err
	}
	for _, m := range msgs {
		r, op, ok := fibrule.Decode(m)
		if !ok {
			// Interface-less rules do not survive Decode's notification
			// filter; reconstruct enough to log the transaction.
			hdr := nl.DeserializeRtMsg(m.Data)
			r = fibrule.Rule{Family: hdr.Family}
			op = fibrule.Op(m.Header.Type)
		}
		k.txns = append(k.txns, struct {
			Op   fibrule.Op
			Rule fibrule.Rule
		}{op, r})
	}
	return nil
}

func (k *fakeKernel) Notifications(ctx context.Context, ch chan<- syscall.NetlinkMessage) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNewDaemonAppliesDeclaredPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NexthopGroups = []NexthopGroupConfig{{Name: "gw", Table: 250, Nexthops: 2}}
	cfg.Maps = []MapConfig{{
		Name: "prod",
		Sequences: []SequenceConfig{{
			Seq:          10,
			MatchSrc:     "10.0.0.0/24",
			NexthopGroup: "gw",
		}},
	}}

	kern := &fakeKernel{}
	d, err := NewDaemon(cfg, WithTransport(kern))
	require.NoError(t, err)

	snap := d.Model().Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "prod", snap[0].Name)
	require.True(t, snap[0].Valid)
	require.Len(t, snap[0].Sequences, 1)
	require.True(t, snap[0].Sequences[0].Installed)
	require.Equal(t, uint32(310), snap[0].Sequences[0].Ruleno)
	require.Equal(t, uint32(250), snap[0].Sequences[0].Table)

	require.Len(t, kern.txns, 1)
	require.Equal(t, fibrule.OpAdd, kern.txns[0].Op)
}

func TestNewDaemonRejectsAmbiguousAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maps = []MapConfig{{
		Name: "prod",
		Sequences: []SequenceConfig{{
			Seq:          10,
			MatchSrc:     "10.0.0.0/24",
			NexthopGroup: "gw",
			Nexthop:      &NexthopConfig{Gateway: "192.0.2.1"},
		}},
	}}

	_, err := NewDaemon(cfg, WithTransport(&fakeKernel{}))
	require.Error(t, err)
}

func TestNewDaemonRejectsUnknownNexthopInterface(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maps = []MapConfig{{
		Name: "prod",
		Sequences: []SequenceConfig{{
			Seq:      10,
			MatchSrc: "10.0.0.0/24",
			Nexthop:  &NexthopConfig{Gateway: "192.0.2.1", Interface: "does-not-exist-0"},
		}},
	}}

	_, err := NewDaemon(cfg, WithTransport(&fakeKernel{}))
	require.Error(t, err)
}
