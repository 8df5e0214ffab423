package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// reservedKindPrefix is the kind namespace carried over from the
// original implementation's reserved metric vocabulary; external
// producers may not submit metrics under it.
const reservedKindPrefix = "nanocl.io"

// Service samples host resources on a fixed interval, persists Metric
// rows with a TTL, sweeps expired rows, and accepts externally
// submitted metrics subject to a reserved-kind check.
type Service struct {
	store    store.Store
	bus      *eventbus.Bus
	node     string
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
}

// New builds a metrics service for the given node name.
func New(s store.Store, bus *eventbus.Bus, node string, interval, ttl time.Duration) *Service {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: s, bus: bus, node: node, interval: interval, ttl: ttl, stopCh: make(chan struct{})}
}

// Start begins periodic sampling and retention sweeping.
func (svc *Service) Start() {
	ticker := time.NewTicker(svc.interval)
	sweep := time.NewTicker(svc.ttl)
	go func() {
		svc.sample()
		for {
			select {
			case <-ticker.C:
				svc.sample()
			case <-sweep.C:
				svc.sweep()
			case <-svc.stopCh:
				ticker.Stop()
				sweep.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampler.
func (svc *Service) Stop() {
	close(svc.stopCh)
}

func (svc *Service) sample() {
	ctx := context.Background()
	data := map[string]any{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		data["cpu_percent"] = percents[0]
	} else if err != nil {
		log.Errorf("sampling cpu usage", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		data["memory_used_bytes"] = vm.Used
		data["memory_total_bytes"] = vm.Total
		data["memory_percent"] = vm.UsedPercent
	} else {
		log.Errorf("sampling memory usage", err)
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		data["disk_used_bytes"] = usage.Used
		data["disk_total_bytes"] = usage.Total
		data["disk_percent"] = usage.UsedPercent
	} else {
		log.Errorf("sampling disk usage", err)
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		data["network_bytes_sent"] = counters[0].BytesSent
		data["network_bytes_recv"] = counters[0].BytesRecv
	} else if err != nil {
		log.Errorf("sampling network counters", err)
	}

	if _, err := svc.insert(ctx, "HostStats", data, ""); err != nil {
		log.Errorf("persisting host metric sample", err)
		return
	}
	MetricsSampledTotal.Inc()
}

// Submit records an externally produced metric, rejecting kinds under
// the reserved prefix.
func (svc *Service) Submit(ctx context.Context, kind string, data map[string]any, note string) (*types.Metric, error) {
	if kind == reservedKindPrefix || strings.HasPrefix(kind, reservedKindPrefix+"/") {
		return nil, ferr.Invalid("reserved kind %s", reservedKindPrefix)
	}
	return svc.insert(ctx, kind, data, note)
}

func (svc *Service) insert(ctx context.Context, kind string, data map[string]any, note string) (*types.Metric, error) {
	now := time.Now()
	m := &types.Metric{
		ID:        uuid.NewString(),
		Node:      svc.node,
		Kind:      kind,
		Data:      data,
		Note:      note,
		CreatedAt: now,
		ExpireAt:  now.Add(svc.ttl),
	}
	if err := svc.store.PutMetric(ctx, m); err != nil {
		return nil, err
	}
	svc.bus.Emit(types.EventKindNormal, types.ActionCreate, types.Actor{Kind: "Metric", Key: m.ID}, "MetricSampled", "")
	return m, nil
}

// List returns metrics matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Metric, error) {
	return svc.store.ListMetrics(ctx, f)
}

// sweep deletes expired Metric rows and counts how many were removed.
func (svc *Service) sweep() {
	n, err := svc.store.DeleteExpiredMetrics(context.Background())
	if err != nil {
		log.Errorf("sweeping expired metrics", err)
		return
	}
	if n > 0 {
		MetricsSweptTotal.Add(float64(n))
	}
}
