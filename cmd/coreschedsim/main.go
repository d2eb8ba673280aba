// Command coreschedsim is an in-process simulation harness for the
// scheduler core: it builds a machine model (pcpus split across NUMA
// nodes), spawns a scripted set of VMs onto it, replays ticks and NUMA
// rebalance periods, and reports the resulting load and placement
// metrics. It exists because the scheduler core itself has no
// standalone binary surface (spec §1 excludes the snapshot presentation
// layer); this is the harness that exercises it end to end.
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/vmkern/coresched/internal/log"
	"github.com/vmkern/coresched/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "coreschedsim",
		Usage:   "simulate the core scheduler against a scripted VM workload",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pcpus", Value: 16, Usage: "number of physical CPUs"},
			&cli.IntFlag{Name: "nodes", Value: 2, Usage: "number of NUMA nodes"},
			&cli.IntFlag{Name: "vms", Value: 8, Usage: "number of VMs to spawn"},
			&cli.IntFlag{Name: "vcpus-per-vm", Value: 2, Usage: "vCPUs per spawned VM"},
			&cli.Uint64Flag{Name: "vm-mem-mb", Value: 512, Usage: "reserved memory per VM, in MiB"},
			&cli.IntFlag{Name: "periods", Value: 20, Usage: "number of rebalance periods to simulate"},
			&cli.Uint64Flag{Name: "period-ms", Value: 5000, Usage: "milliseconds per rebalance period"},
			&cli.Uint64Flag{Name: "cycles-per-ms", Value: 2_800_000, Usage: "simulated CPU cycles per millisecond (clock rate)"},
			&cli.BoolFlag{Name: "disable-numa-rebalance", Usage: "run with NumaRebalance disabled, for a neutrality comparison"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address instead of exiting after the run"},
		},
		Action: runScenario,
	}

	if err := app.Run(os.Args); err != nil {
		log.L().WithError(err).Error("coreschedsim: run failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
