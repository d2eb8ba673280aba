package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"

	"github.com/vmkern/coresched/internal/config"
	"github.com/vmkern/coresched/internal/log"
)

func runScenario(c *cli.Context) error {
	ctx := c.Context

	reg := prometheus.NewRegistry()
	m, err := newMachine(c.Int("pcpus"), c.Int("nodes"), reg)
	if err != nil {
		return fmt.Errorf("building machine: %w", err)
	}

	if c.Bool("disable-numa-rebalance") {
		m.cfgStore.Mutate(func(o *config.Options) { o.NumaRebalance = false })
	}

	vmMemBytes := c.Uint64("vm-mem-mb") << 20
	vcpusPerVM := c.Int("vcpus-per-vm")
	numVMs := c.Int("vms")

	ids := make([]uint32, 0, numVMs)
	for i := 0; i < numVMs; i++ {
		id, err := m.spawnVM(ctx, vcpusPerVM, 100, vmMemBytes)
		if err != nil {
			return fmt.Errorf("spawning vm %d: %w", i, err)
		}
		ids = append(ids, id)
		log.G(ctx).WithField("vsmp", id).Debug("coreschedsim: vm admitted")
	}

	periodMs := c.Uint64("period-ms")
	cyclesPerMs := c.Uint64("cycles-per-ms")
	periodCycles := periodMs * cyclesPerMs

	for period := 0; period < c.Int("periods"); period++ {
		running, ready := m.tick(periodCycles)
		m.sampleLoadHistory(cyclesPerMs)
		m.rebalance(periodCycles, cyclesPerMs)

		log.G(ctx).WithField("period", period).
			WithField("running", running).
			WithField("ready", ready).
			Debug("coreschedsim: period complete")
	}

	printReport(m, ids)

	if addr := c.String("metrics-addr"); addr != "" {
		log.L().WithField("addr", addr).Info("coreschedsim: serving /metrics")
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		return http.ListenAndServe(addr, nil)
	}
	return nil
}
