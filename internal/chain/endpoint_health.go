package chain

import (
	"sort"
	"sync"
	"time"
)

const (
	unhealthyAfterErrors = 3
	probeAfter           = 30 * time.Second
	latencyWeight        = 0.3
	unmeasuredLatency    = 100 * time.Millisecond
)

// endpointState is the rolling health of one RPC URL.
type endpointState struct {
	url       string
	latency   time.Duration
	samples   int
	failures  int
	lastError time.Time
	healthy   bool
}

// EndpointTracker orders RPC URLs by observed health so dials try the
// fastest working endpoint first.
type EndpointTracker struct {
	mu    sync.RWMutex
	eps   []*endpointState
	now   func() time.Time
	probe time.Duration
}

// NewEndpointTracker starts every URL healthy with a neutral latency.
func NewEndpointTracker(urls []string) *EndpointTracker {
	eps := make([]*endpointState, 0, len(urls))
	for _, u := range urls {
		eps = append(eps, &endpointState{url: u, latency: unmeasuredLatency, healthy: true})
	}
	return &EndpointTracker{eps: eps, now: time.Now, probe: probeAfter}
}

// Observe records the outcome of one call. Latency is folded into an EWMA
// on success; failures count toward marking the endpoint unhealthy.
func (t *EndpointTracker) Observe(url string, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep := t.lookup(url)
	if ep == nil {
		return
	}

	if err != nil {
		ep.failures++
		ep.lastError = t.now()
		if ep.failures >= unhealthyAfterErrors {
			ep.healthy = false
		}
		return
	}

	ep.failures = 0
	ep.healthy = true
	if ep.samples == 0 {
		ep.latency = latency
	} else {
		ep.latency = time.Duration(latencyWeight*float64(latency) + (1-latencyWeight)*float64(ep.latency))
	}
	ep.samples++
}

// Order returns URLs to try: healthy ones by latency, then unhealthy ones
// whose last failure is old enough to deserve a probe.
func (t *EndpointTracker) Order() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var healthy, probes []*endpointState
	for _, ep := range t.eps {
		switch {
		case ep.healthy:
			healthy = append(healthy, ep)
		case now.Sub(ep.lastError) >= t.probe:
			probes = append(probes, ep)
		}
	}

	sort.SliceStable(healthy, func(i, j int) bool { return healthy[i].latency < healthy[j].latency })

	out := make([]string, 0, len(healthy)+len(probes))
	for _, ep := range healthy {
		out = append(out, ep.url)
	}
	for _, ep := range probes {
		out = append(out, ep.url)
	}
	return out
}

// Latency returns the current EWMA latency for url.
func (t *EndpointTracker) Latency(url string) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ep := t.lookup(url); ep != nil {
		return ep.latency, true
	}
	return 0, false
}

func (t *EndpointTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.eps)
}

func (t *EndpointTracker) lookup(url string) *endpointState {
	for _, ep := range t.eps {
		if ep.url == url {
			return ep
		}
	}
	return nil
}
