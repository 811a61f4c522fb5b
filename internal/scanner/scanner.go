package scanner

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/errors"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
	"golang.org/x/sync/semaphore"
)

// DiscoveredAgent is a transient scan result. Callers reconcile it
// against the device repository; it is never persisted directly.
type DiscoveredAgent struct {
	IPAddress   string    `json:"ip_address"`
	Port        int       `json:"port"`
	AgentKey    string    `json:"agent_key"`
	RespondedAt time.Time `json:"responded_at"`
}

// Options configures a single sweep. Zero values fall back to the
// scanner's configured defaults.
type Options struct {
	Subnet         string        // CIDR; empty = host's local /24
	Timeout        time.Duration // per-probe timeout
	Concurrency    int           // max in-flight probes
	AgentPort      int
	TargetAgentKey string // stop early once this agent is found

	// OnProgress is invoked after each completed probe with the number
	// of addresses probed so far and the sweep total. Calls may arrive
	// concurrently and out of order; the callback must be cheap and
	// thread-safe.
	OnProgress func(probed, total int)
}

// Scanner sweeps subnets for agents using bounded-concurrency handshake
// probes. It holds no state across scans beyond its configuration.
type Scanner struct {
	settings conf.ScannerSettings
	metrics  *metrics.Metrics
	log      logger.Logger
}

// New creates a Scanner.
func New(settings conf.ScannerSettings, m *metrics.Metrics, log logger.Logger) *Scanner {
	return &Scanner{settings: settings, metrics: m, log: log}
}

// probe outcome labels for instrumentation.
const (
	probeResultHit  = "hit"
	probeResultMiss = "miss"
)

// Scan enumerates every usable host address in the subnet and probes
// each under the concurrency bound. The result is the unordered union of
// successful handshakes; individual probe failures never fail the scan.
// When Options.TargetAgentKey is set the sweep cancels cooperatively as
// soon as the target answers and only the matching agent is returned.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]DiscoveredAgent, error) {
	opts = s.withDefaults(opts)

	subnet := opts.Subnet
	if subnet == "" {
		derived, err := CurrentSubnet()
		if err != nil {
			return nil, err
		}
		subnet = derived
	}

	hosts, err := enumerateHosts(subnet)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	s.log.Info("starting subnet sweep",
		logger.String("subnet", subnet),
		logger.Int("hosts", len(hosts)),
		logger.Int("concurrency", opts.Concurrency))
	if s.metrics != nil {
		s.metrics.ScansTotal.Inc()
	}
	start := time.Now()

	client := NewHandshakeClient(s.settings.HandshakeKey, opts.Timeout)

	// scanCtx is cancelled on target match; remaining probes observe the
	// cancellation between dispatch iterations rather than being killed.
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var found []DiscoveredAgent
	probed := 0

	for _, ip := range hosts {
		if err := sem.Acquire(scanCtx, 1); err != nil {
			// Cancelled: either the caller gave up or the target was
			// found. Queued probes stop here.
			break
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)

			identity, err := client.Handshake(scanCtx, ip, opts.AgentPort)

			mu.Lock()
			probed++
			done := probed
			if err == nil {
				found = append(found, DiscoveredAgent{
					IPAddress:   ip,
					Port:        opts.AgentPort,
					AgentKey:    identity.AgentKey,
					RespondedAt: time.Now(),
				})
			}
			mu.Unlock()

			if err != nil {
				s.metrics.ObserveProbe(probeResultMiss)
			} else {
				s.metrics.ObserveProbe(probeResultHit)
				if opts.TargetAgentKey != "" && identity.AgentKey == opts.TargetAgentKey {
					cancel()
				}
			}

			// Progress runs outside the result lock so a slow callback
			// never stalls other completing probes.
			if opts.OnProgress != nil {
				opts.OnProgress(done, len(hosts))
			}
		}(ip)
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		s.metrics.AgentsDiscovered.Add(float64(len(found)))
	}

	if opts.TargetAgentKey != "" {
		for i := range found {
			if found[i].AgentKey == opts.TargetAgentKey {
				return found[i : i+1], nil
			}
		}
		// Target not found; a caller-initiated cancellation still counts
		// as an aborted sweep.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}

	if ctx.Err() != nil {
		return found, ctx.Err()
	}

	s.log.Info("subnet sweep completed",
		logger.String("subnet", subnet),
		logger.Int("probed", probed),
		logger.Int("found", len(found)),
		logger.Duration("elapsed", time.Since(start)))
	return found, nil
}

// FindAgentNewIP sweeps for a specific agent key and returns its current
// address. Used to re-resolve a device's IP after DHCP reassignment.
// The second return is false when the agent did not answer anywhere in
// the sweep.
func (s *Scanner) FindAgentNewIP(ctx context.Context, agentKey string) (string, bool, error) {
	agents, err := s.Scan(ctx, Options{TargetAgentKey: agentKey})
	if err != nil {
		return "", false, err
	}
	if len(agents) == 0 {
		return "", false, nil
	}
	return agents[0].IPAddress, true, nil
}

func (s *Scanner) withDefaults(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = s.settings.ProbeTimeout.Std()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.settings.Concurrency
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 25
	}
	if opts.AgentPort <= 0 {
		opts.AgentPort = s.settings.AgentPort
	}
	if opts.Subnet == "" {
		opts.Subnet = s.settings.Subnet
	}
	return opts
}

// enumerateHosts expands a CIDR into its usable IPv4 host addresses,
// excluding the network and broadcast addresses. Masks of /31 and
// narrower have no usable hosts and yield an empty slice.
func enumerateHosts(cidr string) ([]string, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Newf("invalid subnet %q: %v", cidr, err).
			Component("scanner").
			Category(errors.CategoryValidation).
			Build()
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.Newf("subnet %q is not IPv4", cidr).
			Component("scanner").
			Category(errors.CategoryValidation).
			Build()
	}

	ones, bits := ipNet.Mask.Size()
	if bits != 32 || ones >= 31 {
		return nil, nil
	}

	network := ip4.Mask(ipNet.Mask)
	total := 1 << (bits - ones)

	hosts := make([]string, 0, total-2)
	addr := make(net.IP, len(network))
	copy(addr, network)
	// Skip the network address (offset 0) and broadcast (last offset).
	for offset := 1; offset < total-1; offset++ {
		incIP(addr)
		hosts = append(hosts, addr.String())
	}
	return hosts, nil
}

// incIP increments an IPv4 address in place.
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// CurrentSubnet derives the host's local /24 from its network
// interfaces, skipping loopback, link-local, and downed interfaces.
func CurrentSubnet() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || !ip4.IsGlobalUnicast() || ip4.IsLinkLocalUnicast() {
				continue
			}
			masked := ip4.Mask(net.CIDRMask(24, 32))
			return fmt.Sprintf("%s/24", masked), nil
		}
	}
	return "", errors.Newf("no active network interface with an IPv4 address").
		Component("scanner").
		Category(errors.CategoryNetwork).
		Build()
}
