package loadbalancer

import "math/rand/v2"

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (r *Random) Pick(endpoints []string) string {
	if len(endpoints) == 0 {
		return ""
	}
	return endpoints[rand.IntN(len(endpoints))]
}

func (r *Random) Name() string {
	return "random"
}
