//go:build linux

package tcsource

import (
	"context"
	"errors"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/flower"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	_ = flag.Set("v", "5")
	_ = flag.Set("logtostderr", "true")

	exitCode := m.Run()
	klog.Flush()
	os.Exit(exitCode)
}

type fakeSink struct {
	rules    map[flowID]*flower.Rule
	replaced int
	deleted  []flowID
	stats    flower.FlowStats
}

func (f *fakeSink) Replace(_ context.Context, rule *flower.Rule) error {
	if _, err := flower.CalculateKeyLayers(rule, 0); err != nil {
		return err
	}
	f.replaced++
	f.rules[flowID{rule.Cookie, rule.Ingress.Index}] = rule
	return nil
}

func (f *fakeSink) DelFlow(_ context.Context, cookie uint64, ingress int) error {
	id := flowID{cookie, ingress}
	if _, ok := f.rules[id]; !ok {
		return flower.ErrNotFound
	}
	delete(f.rules, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSink) FlowStats(cookie uint64, ingress int) (flower.FlowStats, error) {
	if _, ok := f.rules[flowID{cookie, ingress}]; !ok {
		return flower.FlowStats{}, flower.ErrNotFound
	}
	return f.stats, nil
}

func TestSyncerSyncOnce(t *testing.T) {
	sink := &fakeSink{
		rules: make(map[flowID]*flower.Rule),
		stats: flower.FlowStats{Pkts: 5, Bytes: 500, Used: time.Unix(1700000000, 0)},
	}
	s := NewSyncer(sink, testPorts(), []string{"pf0vf1", "missing"}, time.Second)
	s.link = func(name string) (netlink.Link, error) {
		if name != "pf0vf1" {
			return nil, errors.New("link not found")
		}
		return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: 10}}, nil
	}

	offloaded := tcpFilter(1, 1, 80)
	skipHw := tcpFilter(1, 2, 443)
	skipHw.SkipHw = true
	unsupported := tcpFilter(1, 3, 22)
	unsupported.Actions = []netlink.Action{&netlink.BpfAction{Fd: 3, Name: "prog"}}

	filters := []netlink.Filter{offloaded, skipHw, unsupported, &netlink.U32{}}
	s.list = func(link netlink.Link) ([]netlink.Filter, error) {
		assert.Equal(t, "pf0vf1", link.Attrs().Name)
		return filters, nil
	}

	s.SyncOnce()
	assert.Equal(t, 1, sink.replaced)
	assert.Len(t, sink.rules, 1)
	rule := sink.rules[flowID{Cookie(offloaded), 10}]
	if assert.NotNil(t, rule) {
		assert.Equal(t, "pf0vf1", rule.Ingress.Name)
	}
	total, ok := s.Totals(Cookie(offloaded), 10)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), total.Pkts)

	s.SyncOnce()
	assert.Equal(t, 2, sink.replaced)
	total, _ = s.Totals(Cookie(offloaded), 10)
	assert.Equal(t, uint64(10), total.Pkts)
	assert.Equal(t, uint64(1000), total.Bytes)
	assert.Equal(t, sink.stats.Used, total.Used)

	filters = nil
	s.SyncOnce()
	assert.Equal(t, []flowID{{Cookie(offloaded), 10}}, sink.deleted)
	_, ok = s.Totals(Cookie(offloaded), 10)
	assert.False(t, ok)
}
