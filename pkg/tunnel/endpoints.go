// Package tunnel keeps the firmware list of local tunnel endpoint addresses
// in step with the decapsulation flows that need them.
package tunnel

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/cmsg"
	"github.com/corigine/flower-offload/pkg/flower"
)

// Sender delivers an encoded control message.
type Sender interface {
	Send(ctx context.Context, msg []byte) error
}

// Endpoints counts decap flows per IPv4 address. The firmware table is
// rewritten whenever an address appears or goes away.
type Endpoints struct {
	mu     sync.Mutex
	sender Sender
	refs   map[netip.Addr]int
}

var _ flower.TunnelEndpoints = &Endpoints{}

func NewEndpoints(sender Sender) *Endpoints {
	return &Endpoints{
		sender: sender,
		refs:   make(map[netip.Addr]int),
	}
}

func (e *Endpoints) Add(ctx context.Context, addr netip.Addr) error {
	if !addr.Is4() {
		return fmt.Errorf("tunnel endpoint %s is not IPv4", addr)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs[addr] > 0 {
		e.refs[addr]++
		return nil
	}
	if len(e.refs) >= cmsg.NFP_FL_IPV4_ADDRS_MAX {
		return fmt.Errorf("%w: %d tunnel endpoints in use", flower.ErrResourceExhausted, len(e.refs))
	}
	e.refs[addr] = 1
	if err := e.sync(ctx); err != nil {
		delete(e.refs, addr)
		return err
	}
	klog.V(2).Infof("tunnel endpoint %s added", addr)
	return nil
}

func (e *Endpoints) Del(ctx context.Context, addr netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.refs[addr]
	if !ok {
		return
	}
	if n > 1 {
		e.refs[addr] = n - 1
		return
	}
	delete(e.refs, addr)
	if err := e.sync(ctx); err != nil {
		klog.Errorf("Failed to remove tunnel endpoint %s: %v", addr, err)
		return
	}
	klog.V(2).Infof("tunnel endpoint %s removed", addr)
}

// List returns the addresses currently programmed, sorted.
func (e *Endpoints) List() []netip.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list()
}

func (e *Endpoints) list() []netip.Addr {
	addrs := make([]netip.Addr, 0, len(e.refs))
	for addr := range e.refs {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	return addrs
}

func (e *Endpoints) sync(ctx context.Context) error {
	msg, err := cmsg.EncodeTunIPs(e.list())
	if err != nil {
		return err
	}
	return e.sender.Send(ctx, msg)
}
