package loadbalancer

import "sync/atomic"

type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Pick(endpoints []string) string {
	if len(endpoints) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return endpoints[n%uint64(len(endpoints))]
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}
