package flower

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/nfp"
)

// FlowOp selects the firmware operation of a flow message.
type FlowOp uint8

const (
	FlowAdd FlowOp = iota
	FlowDel
)

func (op FlowOp) String() string {
	switch op {
	case FlowAdd:
		return "add"
	case FlowDel:
		return "del"
	}
	return "unknown"
}

// Transport pushes compiled flows to the firmware.
type Transport interface {
	SendFlow(ctx context.Context, p *FlowPayload, op FlowOp) error
}

// TunnelEndpoints tracks the IPv4 addresses the firmware decapsulates for.
type TunnelEndpoints interface {
	Add(ctx context.Context, addr netip.Addr) error
	Del(ctx context.Context, addr netip.Addr)
}

// PortCounter counts offloaded flows per ingress netdev.
type PortCounter interface {
	IncOffload(ifindex int)
	DecOffload(ifindex int)
}

// OffloadSink receives classifier rule events from a rule source.
type OffloadSink interface {
	Replace(ctx context.Context, rule *Rule) error
	DelFlow(ctx context.Context, cookie uint64, ingress int) error
	FlowStats(cookie uint64, ingress int) (FlowStats, error)
}

const DefaultStatsContexts = 64 * 1024

type Config struct {
	Caps          Capabilities
	TableCapacity int
	TableShards   int
	StatsContexts int

	Transport Transport
	// Tunnels and Ports are optional.
	Tunnels TunnelEndpoints
	Ports   PortCounter
}

// Engine owns the offload state of one device: the flow table, the mask
// and stats context pools and the flow version counter.
type Engine struct {
	// mu serialises Add, Del and Replace. Stats lookups do not take it.
	mu      sync.Mutex
	caps    Capabilities
	table   *FlowTable
	masks   *maskTable
	stats   *statsTable
	version uint64
	closed  bool

	transport Transport
	tunnels   TunnelEndpoints
	ports     PortCounter
}

var _ OffloadSink = &Engine{}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("flower engine needs a transport")
	}
	if cfg.StatsContexts <= 0 {
		cfg.StatsContexts = DefaultStatsContexts
	}
	e := &Engine{
		caps:      cfg.Caps,
		masks:     newMaskTable(),
		stats:     newStatsTable(cfg.StatsContexts),
		transport: cfg.Transport,
		tunnels:   cfg.Tunnels,
		ports:     cfg.Ports,
	}
	e.table = NewFlowTable(cfg.TableShards, cfg.TableCapacity, e.freePayload)
	return e, nil
}

// freePayload runs once no table entry and no stats reader refers to p.
func (e *Engine) freePayload(p *FlowPayload) {
	e.stats.release(p.HostCtxID)
	klog.V(4).Infof("flow %x ctx %d freed", p.Cookie, p.HostCtxID)
}

// AddFlow compiles rule and offloads it. Any failure leaves no state behind.
func (e *Engine) AddFlow(ctx context.Context, rule *Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.addFlow(ctx, rule)
}

func (e *Engine) addFlow(ctx context.Context, rule *Rule) (err error) {
	defer func() {
		metricFlowOps.WithLabelValues(FlowAdd.String(), opResult(err)).Inc()
		metricFlowResident.Set(float64(e.table.Len()))
		metricMaskInUse.Set(float64(e.masks.len()))
	}()

	kl, err := CalculateKeyLayers(rule, e.caps)
	if err != nil {
		return err
	}
	if h, ok := e.table.Lookup(rule.Cookie, rule.Ingress.Index); ok {
		h.Release()
		return ErrFlowExists
	}

	p, err := BuildPayload(kl, rule, 0)
	if err != nil {
		return err
	}

	// A rule on a shared block arrives once per bound netdev. The firmware
	// needs it only once when nothing but the ingress binding differs.
	if h, ok := e.table.LookupCookie(rule.Cookie); ok {
		same := h.Payload().SameMatch(p)
		other := h.Payload().Ingress
		h.Release()
		if same {
			klog.V(2).Infof("flow %x on ingress %d already offloaded through ingress %d", rule.Cookie, rule.Ingress.Index, other)
			return nil
		}
	}

	maskID, first, err := e.masks.get(p.Mask)
	if err != nil {
		return err
	}
	p.SetMaskID(maskID)
	if first {
		p.Meta.Flags |= nfp.NFP_FL_META_FLAG_MANAGE_MASK
	}

	ctxID, err := e.stats.alloc()
	if err != nil {
		e.masks.put(maskID)
		return err
	}
	p.HostCtxID = ctxID
	p.Meta.HostCtxID = ctxID
	p.Meta.FlowVersion = e.version
	e.version++

	if err = e.table.Insert(p); err != nil {
		e.stats.release(ctxID)
		e.masks.put(maskID)
		return err
	}

	if kl.TunnelType() != TunnelNone && e.tunnels != nil {
		dst := netip.AddrFrom4(rule.EncIPv4.Key.Dst)
		if err = e.tunnels.Add(ctx, dst); err != nil {
			e.unlink(p)
			return fmt.Errorf("tunnel endpoint %s: %w", dst, err)
		}
		p.TunnelIPv4 = dst
	}

	if err = e.transport.SendFlow(ctx, p, FlowAdd); err != nil {
		if p.TunnelIPv4.IsValid() {
			e.tunnels.Del(ctx, p.TunnelIPv4)
		}
		e.unlink(p)
		return fmt.Errorf("send flow %x: %w", p.Cookie, err)
	}

	if e.ports != nil {
		e.ports.IncOffload(p.Ingress)
	}
	klog.V(3).Infof("flow %x offloaded on ingress %d ctx %d mask %d", p.Cookie, p.Ingress, ctxID, maskID)
	return nil
}

// unlink undoes a table insert of an add that did not reach the firmware.
func (e *Engine) unlink(p *FlowPayload) {
	if h, ok := e.table.Remove(p.Cookie, p.Ingress); ok {
		h.Release()
	}
	e.masks.put(p.MaskID)
}

// DelFlow removes an offloaded flow. Local state is always cleaned up; a
// firmware failure is still returned to the caller.
func (e *Engine) DelFlow(ctx context.Context, cookie uint64, ingress int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delFlow(ctx, cookie, ingress)
}

func (e *Engine) delFlow(ctx context.Context, cookie uint64, ingress int) (err error) {
	defer func() {
		metricFlowOps.WithLabelValues(FlowDel.String(), opResult(err)).Inc()
		metricFlowResident.Set(float64(e.table.Len()))
		metricMaskInUse.Set(float64(e.masks.len()))
	}()

	h, ok := e.table.Remove(cookie, ingress)
	if !ok {
		return ErrNotFound
	}
	defer h.Release()
	p := h.Payload()

	del := *p
	del.Meta.Flags &^= nfp.NFP_FL_META_FLAG_MANAGE_MASK
	if e.masks.put(p.MaskID) {
		del.Meta.Flags |= nfp.NFP_FL_META_FLAG_MANAGE_MASK
	}

	if err = e.transport.SendFlow(ctx, &del, FlowDel); err != nil {
		klog.Errorf("Failed to delete flow %x from firmware: %v", cookie, err)
		err = fmt.Errorf("send flow %x: %w", cookie, err)
	}

	if p.TunnelIPv4.IsValid() && e.tunnels != nil {
		e.tunnels.Del(ctx, p.TunnelIPv4)
	}
	if e.ports != nil {
		e.ports.DecOffload(ingress)
	}
	return err
}

// Replace offloads rule, replacing an existing flow with the same cookie
// and ingress when its compiled form differs.
func (e *Engine) Replace(ctx context.Context, rule *Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	h, ok := e.table.Lookup(rule.Cookie, rule.Ingress.Index)
	if !ok {
		return e.addFlow(ctx, rule)
	}
	existing := h.Payload()
	h.Release()

	kl, err := CalculateKeyLayers(rule, e.caps)
	if err == nil {
		var cand *FlowPayload
		if cand, err = BuildPayload(kl, rule, existing.MaskID); err == nil && existing.SameMatch(cand) {
			return nil
		}
	}
	if delErr := e.delFlow(ctx, rule.Cookie, rule.Ingress.Index); delErr != nil {
		klog.Warningf("replace flow %x: %v", rule.Cookie, delErr)
	}
	if err != nil {
		return err
	}
	return e.addFlow(ctx, rule)
}

// FlowStats returns the counters gathered since the previous call and
// resets them.
func (e *Engine) FlowStats(cookie uint64, ingress int) (FlowStats, error) {
	h, ok := e.table.Lookup(cookie, ingress)
	if !ok {
		return FlowStats{}, ErrNotFound
	}
	defer h.Release()
	return e.stats.take(h.Payload().HostCtxID), nil
}

// UpdateStats applies one firmware stats frame.
func (e *Engine) UpdateStats(ctxID uint32, pkts uint32, bytes uint64) {
	if !e.stats.update(ctxID, pkts, bytes) {
		metricStatsDropped.Inc()
		klog.V(4).Infof("stats for inactive ctx %d dropped", ctxID)
	}
}

// StatsTotals reports the counters already read out of the engine for a
// flow through FlowStats.
type StatsTotals func(cookie uint64, ingress int) (FlowStats, bool)

// Flows decodes every resident flow. Its counters are the pending ones plus
// what totals reports, when totals is not nil.
func (e *Engine) Flows(names func(uint32) string, totals StatsTotals) []*nfp.FlowEntry {
	var flows []*nfp.FlowEntry
	e.table.Range(func(p *FlowPayload) bool {
		flow, err := p.Entry(names)
		if err != nil {
			utilruntime.HandleError(fmt.Errorf("decode resident flow %x: %w", p.Cookie, err))
			return true
		}
		s := e.stats.peek(p.HostCtxID)
		if totals != nil {
			if t, ok := totals(p.Cookie, p.Ingress); ok {
				s.Pkts += t.Pkts
				s.Bytes += t.Bytes
			}
		}
		flow.PktCount, flow.ByteCount = s.Pkts, s.Bytes
		flows = append(flows, flow)
		return true
	})
	return flows
}

func (e *Engine) Len() int {
	return e.table.Len()
}

// Close deletes every resident flow and refuses further adds. Flows or
// contexts that survive are reported as leaks.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true

	type flowID struct {
		cookie  uint64
		ingress int
	}
	var ids []flowID
	e.table.Range(func(p *FlowPayload) bool {
		ids = append(ids, flowID{p.Cookie, p.Ingress})
		return true
	})

	var errs []error
	for _, id := range ids {
		if err := e.delFlow(ctx, id.cookie, id.ingress); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}

	if n := e.table.Len(); n > 0 {
		metricFlowLeaked.Add(float64(n))
		utilruntime.HandleError(fmt.Errorf("%d flows still resident after teardown", n))
	}
	if n := e.stats.inUse(); n > 0 {
		utilruntime.HandleError(fmt.Errorf("%d stats contexts still held after teardown", n))
	}
	klog.Infof("flower engine closed, %d flows removed", len(ids))
	return utilerrors.NewAggregate(errs)
}
