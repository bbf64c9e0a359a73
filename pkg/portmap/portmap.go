// Package portmap resolves NFP port ids to the representor netdevs of one
// card and counts the flows offloaded through each of them.
package portmap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/corigine/flower-offload/pkg/flower"
	"github.com/corigine/flower-offload/pkg/nfp"
)

var (
	physPortNameRe = regexp.MustCompile(`^p(\d+)$`)
	pfPortNameRe   = regexp.MustCompile(`^pf(\d+)$`)
	vfPortNameRe   = regexp.MustCompile(`^pf(\d+)vf(\d+)$`)
)

// Port is one representor of the card.
type Port struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	ID    uint32 `json:"id"`
}

// Table is the port map of one card.
type Table struct {
	mu      sync.RWMutex
	byName  map[string]*Port
	byID    map[uint32]*Port
	byIndex map[int]*Port
	offload map[int]int
}

var _ flower.PortCounter = &Table{}

func New() *Table {
	return &Table{
		byName:  make(map[string]*Port),
		byID:    make(map[uint32]*Port),
		byIndex: make(map[int]*Port),
		offload: make(map[int]int),
	}
}

// PortIDFromPhysPortName derives the NFP port id from a phys_port_name
// such as p0, pf0 or pf0vf3.
func PortIDFromPhysPortName(name string) (uint32, error) {
	if m := physPortNameRe.FindStringSubmatch(name); m != nil {
		n, err := strconv.ParseUint(m[1], 10, 8)
		if err != nil {
			return 0, err
		}
		return nfp.PhysPort(uint8(n)), nil
	}
	if m := vfPortNameRe.FindStringSubmatch(name); m != nil {
		pf, err := strconv.ParseUint(m[1], 10, 2)
		if err != nil {
			return 0, err
		}
		vf, err := strconv.ParseUint(m[2], 10, 6)
		if err != nil {
			return 0, err
		}
		return nfp.PCIePort(uint8(pf), nfp.NFP_FLOWER_PORT_VNIC_TYPE_VF, uint8(vf), 0), nil
	}
	if m := pfPortNameRe.FindStringSubmatch(name); m != nil {
		pf, err := strconv.ParseUint(m[1], 10, 2)
		if err != nil {
			return 0, err
		}
		return nfp.PCIePort(uint8(pf), nfp.NFP_FLOWER_PORT_VNIC_TYPE_PF, 0, 0), nil
	}
	return 0, fmt.Errorf("Can not parse the phys port name %q", name)
}

// Add records a representor, replacing an older entry of the same name.
func (t *Table) Add(p Port) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byName[p.Name]; ok {
		delete(t.byID, old.ID)
		delete(t.byIndex, old.Index)
	}
	port := p
	t.byName[p.Name] = &port
	t.byID[p.ID] = &port
	t.byIndex[p.Index] = &port
}

// Resolve fills the port id of a netdev known by name.
func (t *Table) Resolve(name string) (flower.Netdev, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.byName[name]
	if !ok {
		return flower.Netdev{Name: name}, false
	}
	return flower.Netdev{Name: p.Name, Index: p.Index, PortID: p.ID}, true
}

// ResolveIndex is Resolve keyed by ifindex.
func (t *Table) ResolveIndex(ifindex int) (flower.Netdev, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.byIndex[ifindex]
	if !ok {
		return flower.Netdev{Index: ifindex}, false
	}
	return flower.Netdev{Name: p.Name, Index: p.Index, PortID: p.ID}, true
}

// Name returns the netdev behind a port id, as used by flow dumps.
func (t *Table) Name(id uint32) string {
	kind, index, err := nfp.ParsePort(id)
	if err != nil {
		return fmt.Sprintf("0x%x", id)
	}
	if kind == nfp.PortTunnel {
		return nfp.TunnelName(index)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.byID[id]; ok {
		return p.Name
	}
	return fmt.Sprintf("0x%x", id)
}

func (t *Table) Ports() []Port {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ports := make([]Port, 0, len(t.byName))
	for _, p := range t.byName {
		ports = append(ports, *p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports
}

func (t *Table) IncOffload(ifindex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offload[ifindex]++
}

func (t *Table) DecOffload(ifindex int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.offload[ifindex] <= 1 {
		delete(t.offload, ifindex)
		return
	}
	t.offload[ifindex]--
}

// OffloadCount returns the tc_offload_cnt of a netdev.
func (t *Table) OffloadCount(ifindex int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offload[ifindex]
}

// Counts returns the offloaded flow count per netdev name.
func (t *Table) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(t.offload))
	for ifindex, n := range t.offload {
		name := strconv.Itoa(ifindex)
		if p, ok := t.byIndex[ifindex]; ok {
			name = p.Name
		}
		counts[name] = n
	}
	return counts
}
