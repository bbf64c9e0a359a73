//go:build linux

package tcsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vishvananda/netlink"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/flower"
)

type flowID struct {
	cookie  uint64
	ingress int
}

// FilterLister returns the ingress filters of a netdev.
type FilterLister func(link netlink.Link) ([]netlink.Filter, error)

func listIngressFilters(link netlink.Link) ([]netlink.Filter, error) {
	return netlink.FilterList(link, netlink.HANDLE_MIN_INGRESS)
}

// Syncer periodically reconciles the flower filters of a set of netdevs
// with the offload sink: new or changed filters are replaced, vanished
// ones destroyed. Counters pulled from the sink accumulate per filter.
type Syncer struct {
	sink     flower.OffloadSink
	ports    Resolver
	devs     []string
	interval time.Duration
	link     func(name string) (netlink.Link, error)
	list     FilterLister

	mu     sync.Mutex
	known  map[flowID]struct{}
	totals map[flowID]flower.FlowStats
}

func NewSyncer(sink flower.OffloadSink, ports Resolver, devs []string, interval time.Duration) *Syncer {
	return &Syncer{
		sink:     sink,
		ports:    ports,
		devs:     devs,
		interval: interval,
		link:     netlink.LinkByName,
		list:     listIngressFilters,
		known:    make(map[flowID]struct{}),
		totals:   make(map[flowID]flower.FlowStats),
	}
}

// Run syncs until stopCh is closed.
func (s *Syncer) Run(stopCh <-chan struct{}) {
	defer utilruntime.HandleCrash()
	klog.Infof("tc flower sync of %v every %s", s.devs, s.interval)
	wait.Until(s.SyncOnce, s.interval, stopCh)
}

// SyncOnce performs a single reconcile pass.
func (s *Syncer) SyncOnce() {
	ctx := context.Background()
	seen := make(map[flowID]struct{})

	for _, name := range s.devs {
		link, err := s.link(name)
		if err != nil {
			klog.Errorf("failed to get %s netlink info: %v", name, err)
			continue
		}
		ingress, ok := s.ports.ResolveIndex(link.Attrs().Index)
		if !ok {
			klog.Warningf("%s is not a port of the card", name)
			continue
		}
		ingress.Name = name

		filters, err := s.list(link)
		if err != nil {
			klog.Errorf("Read the filters of %s error %v", name, err)
			continue
		}
		for _, f := range filters {
			fl, ok := f.(*netlink.Flower)
			if !ok || fl.SkipHw {
				continue
			}
			s.replace(ctx, fl, ingress, seen)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.known {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.sink.DelFlow(ctx, id.cookie, id.ingress); err != nil && !errors.Is(err, flower.ErrNotFound) {
			klog.Errorf("Failed to destroy flow %x on ingress %d: %v", id.cookie, id.ingress, err)
		}
		delete(s.totals, id)
	}
	s.known = seen
	s.pullStats()
}

func (s *Syncer) replace(ctx context.Context, fl *netlink.Flower, ingress flower.Netdev, seen map[flowID]struct{}) {
	rule, err := RuleFromFlower(fl, ingress, s.ports)
	if err == nil {
		err = s.sink.Replace(ctx, rule)
	}
	id := flowID{Cookie(fl), ingress.Index}
	switch {
	case err == nil:
		seen[id] = struct{}{}
	case errors.Is(err, flower.ErrClosed):
		klog.V(2).Infof("filter %x on %s not offloaded, engine closed", id.cookie, ingress.Name)
	case errors.Is(err, flower.ErrUnsupported):
		klog.V(3).Infof("filter %x on %s stays in software: %v", id.cookie, ingress.Name, err)
	default:
		klog.Errorf("Failed to offload filter %x on %s: %v", id.cookie, ingress.Name, err)
	}
}

func (s *Syncer) pullStats() {
	for id := range s.known {
		st, err := s.sink.FlowStats(id.cookie, id.ingress)
		if err != nil {
			continue
		}
		total := s.totals[id]
		total.Pkts += st.Pkts
		total.Bytes += st.Bytes
		if st.Used.After(total.Used) {
			total.Used = st.Used
		}
		s.totals[id] = total
	}
}

// Totals returns the counters accumulated for a filter on an ingress.
func (s *Syncer) Totals(cookie uint64, ingress int) (flower.FlowStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.totals[flowID{cookie, ingress}]
	return st, ok
}
