package cmsg

import (
	"context"
	"fmt"
	"sync"

	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/flower"
)

// Channel is the control message pipe to the firmware.
type Channel interface {
	Send(ctx context.Context, msg []byte) error
	MaxMessageSize() int
}

// Transport encodes outgoing flow messages and demultiplexes incoming ones.
type Transport struct {
	ch Channel

	mu       sync.RWMutex
	stats    func(StatsFrame)
	handlers map[uint8]func(body []byte)
}

var _ flower.Transport = &Transport{}

func NewTransport(ch Channel) *Transport {
	return &Transport{
		ch:       ch,
		handlers: make(map[uint8]func([]byte)),
	}
}

// SendFlow sends p as a flow add, modify or delete message.
func (t *Transport) SendFlow(ctx context.Context, p *flower.FlowPayload, op flower.FlowOp) error {
	msg, err := EncodeFlow(p, op)
	if err != nil {
		return err
	}
	klog.V(5).Infof("cmsg %s cookie %x ctx %d len %d", op, p.Cookie, p.HostCtxID, len(msg))
	return t.Send(ctx, msg)
}

// Send hands an encoded message to the channel.
func (t *Transport) Send(ctx context.Context, msg []byte) error {
	if limit := t.ch.MaxMessageSize(); len(msg) > limit {
		return fmt.Errorf("%w: %d bytes, channel allows %d", ErrNoMemory, len(msg), limit)
	}
	return t.ch.Send(ctx, msg)
}

// HandleStats registers the consumer of FLOW_STATS frames.
func (t *Transport) HandleStats(fn func(StatsFrame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = fn
}

// Handle registers the consumer of another message type.
func (t *Transport) Handle(msgType uint8, fn func(body []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[msgType] = fn
}

// Receive dispatches one message delivered by the channel.
func (t *Transport) Receive(msg []byte) {
	h, err := ParseHeader(msg)
	if err != nil {
		utilruntime.HandleError(err)
		return
	}
	body := msg[HeaderSize:]

	t.mu.RLock()
	stats, handler := t.stats, t.handlers[h.Type]
	t.mu.RUnlock()

	if h.Type == NFP_FLOWER_CMSG_TYPE_FLOW_STATS && stats != nil {
		frames, err := ParseStats(body)
		if err != nil {
			utilruntime.HandleError(err)
			return
		}
		for _, f := range frames {
			stats(f)
		}
		return
	}
	if handler == nil {
		klog.V(2).Infof("cmsg %s has no handler, dropped", TypeName(h.Type))
		return
	}
	handler(body)
}
