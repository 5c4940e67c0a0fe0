// Package netmon tracks whether the ledger is usable and how well, and asks
// the sync engine to drain when the connection comes back or improves.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/kislikjeka/festpay/pkg/logger"
)

// Quality classifies the connection to the ledger
type Quality string

const (
	QualityGood    Quality = "good"
	QualityPoor    Quality = "poor"
	QualityOffline Quality = "offline"
)

func (q Quality) rank() int {
	switch q {
	case QualityGood:
		return 2
	case QualityPoor:
		return 1
	}
	return 0
}

// LinkType is the kind of network the device is on
type LinkType string

const (
	LinkWiFi     LinkType = "wifi"
	LinkEthernet LinkType = "ethernet"
	LinkCellular LinkType = "cellular"
	LinkUnknown  LinkType = "unknown"
)

// ParseLinkType maps a configured link name, defaulting to unknown
func ParseLinkType(s string) LinkType {
	switch LinkType(s) {
	case LinkWiFi, LinkEthernet, LinkCellular:
		return LinkType(s)
	}
	return LinkUnknown
}

// Connectivity is a low-level connectivity reading
type Connectivity struct {
	Connected bool     `json:"connected"`
	Link      LinkType `json:"link"`
}

// ConnectivitySource reports connectivity transitions
type ConnectivitySource interface {
	Current() Connectivity
	Changes() <-chan Connectivity
}

// Prober measures the round trip to the ledger's health endpoint
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Trigger starts a drain
type Trigger interface {
	Trigger()
}

// Config holds monitor configuration
type Config struct {
	ProbeInterval   time.Duration
	ProbeTimeout    time.Duration
	WiFiGoodRTT     time.Duration
	CellularGoodRTT time.Duration
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		ProbeInterval:   30 * time.Second,
		ProbeTimeout:    5 * time.Second,
		WiFiGoodRTT:     300 * time.Millisecond,
		CellularGoodRTT: 800 * time.Millisecond,
	}
}

// Status is the monitor's last observation
type Status struct {
	Quality   Quality       `json:"quality"`
	Link      LinkType      `json:"link"`
	Connected bool          `json:"connected"`
	RTT       time.Duration `json:"rtt"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Monitor combines connectivity events with periodic ledger probes
type Monitor struct {
	config  Config
	source  ConnectivitySource
	prober  Prober
	trigger Trigger
	logger  *logger.Logger
	now     func() time.Time

	checkMu sync.Mutex // serialises checks

	mu     sync.RWMutex
	status Status
}

// New creates a monitor. The initial quality is offline until the first check.
func New(config Config, source ConnectivitySource, prober Prober, trigger Trigger, log *logger.Logger) *Monitor {
	d := DefaultConfig()
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = d.ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = d.ProbeTimeout
	}
	if config.WiFiGoodRTT <= 0 {
		config.WiFiGoodRTT = d.WiFiGoodRTT
	}
	if config.CellularGoodRTT <= 0 {
		config.CellularGoodRTT = d.CellularGoodRTT
	}

	return &Monitor{
		config:  config,
		source:  source,
		prober:  prober,
		trigger: trigger,
		logger:  log.Component("netmon"),
		now:     time.Now,
		status:  Status{Quality: QualityOffline, Link: LinkUnknown},
	}
}

// Quality returns the last classified quality without probing
func (m *Monitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Quality
}

// Status returns the last observation
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the ledger was reachable at the last check
func (m *Monitor) Online() bool {
	return m.Quality() != QualityOffline
}

// ForceCheck probes now and returns the new quality
func (m *Monitor) ForceCheck(ctx context.Context) Quality {
	return m.check(ctx, m.source.Current())
}

// Run checks on every connectivity change and every ProbeInterval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("starting network monitor", "probe_interval", m.config.ProbeInterval)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.check(ctx, m.source.Current())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("network monitor stopping")
			return
		case c, ok := <-m.source.Changes():
			if !ok {
				return
			}
			m.check(ctx, c)
		case <-ticker.C:
			m.check(ctx, m.source.Current())
		}
	}
}

func (m *Monitor) check(ctx context.Context, conn Connectivity) Quality {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	next := Status{
		Quality:   QualityOffline,
		Link:      conn.Link,
		Connected: conn.Connected,
		CheckedAt: m.now(),
	}

	if conn.Connected {
		pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		rtt, err := m.prober.Probe(pctx)
		cancel()

		if err != nil {
			next.Error = err.Error()
		} else {
			next.RTT = rtt
			next.Quality = m.classify(conn.Link, rtt)
		}
	}

	m.mu.Lock()
	prev := m.status.Quality
	m.status = next
	m.mu.Unlock()

	if prev != next.Quality {
		m.logger.Info("network quality changed",
			"from", prev,
			"to", next.Quality,
			"link", next.Link,
			"rtt", next.RTT)
	}

	if improved(prev, next.Quality) && m.trigger != nil {
		m.trigger.Trigger()
	}
	return next.Quality
}

func (m *Monitor) classify(link LinkType, rtt time.Duration) Quality {
	threshold := m.config.CellularGoodRTT
	if link == LinkWiFi || link == LinkEthernet {
		threshold = m.config.WiFiGoodRTT
	}
	if rtt < threshold {
		return QualityGood
	}
	return QualityPoor
}

// improved is true for offline to online and poor to good
func improved(prev, next Quality) bool {
	return prev.rank() < next.rank()
}
