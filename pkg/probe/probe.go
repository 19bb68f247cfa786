// Package probe runs bounded reachability checks from inside subnet
// namespaces. Probes are used by status and test operations, so they must
// stay responsive against unreachable targets: each attempt carries a one
// second kernel-side timeout and is retried a fixed number of times with a
// constant backoff.
package probe

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Holladworld/vpc-project/pkg/network"
)

// Prober answers reachability questions from a source namespace.
type Prober interface {
	// Ping reports nil when target answers ICMP echo from inside fromNS.
	Ping(ctx context.Context, fromNS, target string) error
	// TCPPort reports nil when a TCP connection to target:port succeeds from
	// inside fromNS.
	TCPPort(ctx context.Context, fromNS, target string, port int) error
}

const (
	defaultWait    = 500 * time.Millisecond
	defaultRetries = 2
)

// NetnsProber probes through the driver's in-namespace command execution.
type NetnsProber struct {
	driver  network.Driver
	wait    time.Duration
	retries uint64
}

var _ Prober = (*NetnsProber)(nil)

func New(driver network.Driver) *NetnsProber {
	return &NetnsProber{driver: driver, wait: defaultWait, retries: defaultRetries}
}

func (p *NetnsProber) Ping(ctx context.Context, fromNS, target string) error {
	return p.retry(ctx, func() error {
		_, err := p.driver.RunInNamespace(fromNS, "ping", "-c", "1", "-W", "1", target)
		return err
	})
}

func (p *NetnsProber) TCPPort(ctx context.Context, fromNS, target string, port int) error {
	return p.retry(ctx, func() error {
		_, err := p.driver.RunInNamespace(fromNS, "nc", "-z", "-w", "1", target, strconv.Itoa(port))
		return err
	})
}

func (p *NetnsProber) retry(ctx context.Context, operation func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.wait), p.retries)
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
