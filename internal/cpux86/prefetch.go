package cpux86

// PrefetchQueue is the ring buffer modelling the small fetch window, per
// spec.md §3/§4.3. getPos/putPos are monotonic counters into buf; ip is the
// linear address the next physical fetch will pull.
type PrefetchQueue struct {
	buf    [16]byte
	getPos int
	putPos int
	ip     uint32
	limit  int // family-specific capacity, from PrefetchQueueLength
}

func NewPrefetchQueue(model CPUModel) *PrefetchQueue {
	return &PrefetchQueue{limit: PrefetchQueueLength(model)}
}

func (q *PrefetchQueue) Len() int { return q.putPos - q.getPos }

// Flush resets both cursors and sets ip = newIp, per spec.md §3.
func (q *PrefetchQueue) Flush(newIp uint32) {
	q.getPos, q.putPos = 0, 0
	q.ip = newIp
}

// fetchNaturalWidth returns how many bytes a single bus transaction could
// cover at ip: 1/2/4 bytes per family, never crossing a 2-/4-byte alignment
// boundary. topUpPrefetch does not call it: the queue is filled one byte at
// a time.
func fetchNaturalWidth(model CPUModel, ip uint32) int {
	var natural int
	switch model {
	case Model8088:
		natural = 1
	case Model8086, Model80386SX:
		natural = 2
	default:
		natural = 4
	}
	aligned := natural - int(ip%uint32(natural))
	if aligned < natural {
		natural = aligned
	}
	return natural
}

// topUpPrefetch tops the queue up to its family-specific capacity, one byte
// at a time (so no fetch spans a page boundary). In protected mode a fetch
// past the CS limit is refused while the queue holds bytes; with the queue
// empty it goes ahead. fetchLinearByte translates through paging only, so
// the only fault raised here is a page fault.
func (c *CPU) topUpPrefetch() *CPUFault {
	q := c.prefetch
	for q.Len() < q.limit {
		if c.state.ProtectedMode() && !c.state.VM86() {
			cs := c.state.Seg[SRegCS].Descriptor
			off := uint64(q.ip) - uint64(cs.Base)
			if off > uint64(cs.Limit) {
				if q.Len() > 0 {
					return nil // refuse past-limit fetch unless queue empty
				}
			}
		}
		b, fault := c.fetchLinearByte(q.ip)
		if fault != nil {
			return fault
		}
		q.buf[q.putPos%len(q.buf)] = b
		q.putPos++
		q.ip++
	}
	return nil
}

// nextByte drains one byte from the prefetch queue for the decoder, topping
// up first.
func (c *CPU) nextByte() (byte, error) {
	if fault := c.topUpPrefetch(); fault != nil {
		return 0, fault
	}
	q := c.prefetch
	if q.Len() == 0 {
		return 0, &HostFault{Reason: "prefetch queue starved"}
	}
	b := q.buf[q.getPos%len(q.buf)]
	q.getPos++
	return b, nil
}
