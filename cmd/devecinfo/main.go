// Command devecinfo lists the compute devices the registered drivers expose,
// and optionally benchmarks them the way the default partitioner does.
//
// Usage:
//
//	devecinfo [-backend sim:gpu,cpu] [-bench] [-n 1048576]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/devec-ml/devec/backend/webgpu"
	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/vec"

	_ "github.com/devec-ml/devec/backend/sim"
)

var (
	flagBackend = flag.String("backend", "",
		"driver to open, as \"<driver>\" or \"<driver>:<config>\"; empty uses $"+device.EnvBackend)
	flagBench = flag.Bool("bench", false,
		"benchmark each device and print the resulting partition weights")
	flagN = flag.Uint64("n", 1<<20,
		"vector size for the sample partition printed with -bench")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	fmt.Printf("registered drivers: %v", device.Available())
	if webgpu.IsAvailable() {
		fmt.Printf(" (webgpu adapter present)")
	}
	fmt.Println()

	var p device.Platform
	if *flagBackend != "" {
		p = must.M1(device.NewWithConfig(*flagBackend))
	} else {
		p = must.M1(device.New())
	}
	defer p.Finalize()

	fmt.Printf("platform: %s (%s)\n", p.Name(), p.Description())
	devs := must.M1(p.Devices())
	for i, d := range devs {
		info := d.Info()
		fmt.Printf("  [%d] %-24s %-5s  workgroup %4d  units %3d  memory %s\n",
			i, info.Name, info.Class, info.MaxWorkgroupSize, info.ComputeUnits,
			humanize.IBytes(info.GlobalMemory))
	}

	if !*flagBench {
		return
	}
	if len(devs) == 0 {
		fmt.Fprintln(os.Stderr, "devecinfo: no devices to benchmark")
		os.Exit(1)
	}

	queues := must.M1(device.AllQueues(p))
	fmt.Println("throughput (1/s of one elementwise pass, bigger is faster):")
	for i, q := range queues {
		w := must.M1(vec.DeviceVectorPerf(q))
		fmt.Printf("  [%d] %-24s %12.1f\n", i, devs[i].Info().Name, w)
	}

	part := must.M1(vec.PartitionByVectorPerf(*flagN, queues))
	fmt.Printf("partition of %d elements: %v\n", *flagN, part)
}
