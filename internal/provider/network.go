package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// InterfaceTraffic is one interface in the network provider payload.
type InterfaceTraffic struct {
	Name          string `json:"name"`
	BytesSent     uint64 `json:"bytesSent"`
	BytesRecv     uint64 `json:"bytesRecv"`
	SendRate      uint64 `json:"sendRate"`
	RecvRate      uint64 `json:"recvRate"`
	SendRateHuman string `json:"sendRateHuman"`
	RecvRateHuman string `json:"recvRateHuman"`
}

// NetworkOutput is the network provider payload. Rates are bytes per second
// since the previous sample; the first sample reports zero rates.
type NetworkOutput struct {
	Interfaces []InterfaceTraffic `json:"interfaces"`
}

type networkConfig struct {
	BaseConfig `mapstructure:",squash"`
	Interfaces []string `mapstructure:"interfaces"`
}

// Network samples per-interface traffic counters.
type Network struct {
	cfg  networkConfig
	prev map[string]psnet.IOCountersStat
	at   time.Time
}

// NewNetwork builds a network provider. An empty interfaces list reports
// every interface except loopback.
func NewNetwork(raw map[string]any) (Provider, error) {
	var cfg networkConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return &Network{cfg: cfg}, nil
}

// Interval implements Provider.
func (n *Network) Interval() time.Duration { return n.cfg.interval(5 * time.Second) }

// Sample implements Provider.
func (n *Network) Sample(ctx context.Context) (any, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("io counters: %w", err)
	}

	now := time.Now()
	elapsed := now.Sub(n.at).Seconds()
	want := make(map[string]bool, len(n.cfg.Interfaces))
	for _, name := range n.cfg.Interfaces {
		want[name] = true
	}

	out := NetworkOutput{Interfaces: []InterfaceTraffic{}}
	next := make(map[string]psnet.IOCountersStat, len(counters))
	for _, c := range counters {
		if len(want) > 0 && !want[c.Name] {
			continue
		}
		if len(want) == 0 && c.Name == "lo" {
			continue
		}
		next[c.Name] = c

		t := InterfaceTraffic{Name: c.Name, BytesSent: c.BytesSent, BytesRecv: c.BytesRecv}
		if p, ok := n.prev[c.Name]; ok && elapsed > 0 {
			t.SendRate = rate(p.BytesSent, c.BytesSent, elapsed)
			t.RecvRate = rate(p.BytesRecv, c.BytesRecv, elapsed)
		}
		t.SendRateHuman = humanize.IBytes(t.SendRate) + "/s"
		t.RecvRateHuman = humanize.IBytes(t.RecvRate) + "/s"
		out.Interfaces = append(out.Interfaces, t)
	}

	n.prev = next
	n.at = now
	return out, nil
}

// rate returns the per-second increase; counter resets yield zero.
func rate(prev, cur uint64, seconds float64) uint64 {
	if cur < prev {
		return 0
	}
	return uint64(float64(cur-prev) / seconds)
}
