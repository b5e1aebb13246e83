// Package perf implements the perf subcommand: a throughput and latency
// benchmark against a running state server.
package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	cmdUtil "github.com/Jackmin801/torch-state-server/cmd/util"
	"github.com/Jackmin801/torch-state-server/rpc/client"
	"github.com/Jackmin801/torch-state-server/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for state servers",
		Long:    `Fetch a leaf repeatedly from a running state server and report throughput and latency percentiles.`,
		PreRunE: processPerfConfig,
		RunE:    run,
	}

	perfPath     string
	perfRequests int
	perfThreads  int
	perfCSV      string
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupClientFlags(PerfCmd)

	key := "path"
	PerfCmd.PersistentFlags().String(key, "model[layers][0][weight]", cmdUtil.WrapString("Path of the leaf to fetch"))

	key = "requests"
	PerfCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Total number of requests to issue"))

	key = "threads"
	PerfCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("Number of concurrent workers (each uses its own client)"))

	key = "csv"
	PerfCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfPath = viper.GetString("path")
	perfRequests = viper.GetInt("requests")
	perfThreads = viper.GetInt("threads")
	perfCSV = viper.GetString("csv")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	config := cmdUtil.GetClientConfig()

	fmt.Println("Performance testing tool for state servers")
	fmt.Println(config.String())
	fmt.Printf("Path: %s\nRequests: %d\nThreads: %d\n\n", perfPath, perfRequests, perfThreads)

	// One warmup fetch to size the payload and fail fast on bad paths.
	warmup := client.NewStateClient(*config)
	tn, err := warmup.GetTensor(perfPath, common.TypeUnspecified, nil)
	if err != nil {
		return fmt.Errorf("warmup fetch failed: %v", err)
	}
	payloadBytes := tn.NumElements() * tn.ElementSize()
	fmt.Printf("Payload: %d elements (%d bytes)\n\n", tn.NumElements(), payloadBytes)

	latencies := metrics.NewHistogram(metrics.NewUniformSample(perfRequests))
	var failures int64
	var mu sync.Mutex

	perWorker := perfRequests / perfThreads
	if perWorker == 0 {
		perWorker = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < perfThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := client.NewStateClient(*config)
			for i := 0; i < perWorker; i++ {
				reqStart := time.Now()
				_, err := c.GetTensor(perfPath, common.TypeUnspecified, nil)
				elapsed := time.Since(reqStart)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					latencies.Update(elapsed.Microseconds())
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	completed := latencies.Count()
	throughput := float64(completed) / total.Seconds()
	mbps := throughput * float64(payloadBytes) / (1024 * 1024)

	fmt.Printf("Completed: %d (failures: %d) in %s\n", completed, failures, total)
	fmt.Printf("Throughput: %.1f req/s (%.1f MiB/s)\n", throughput, mbps)
	fmt.Printf("Latency (us): mean=%.0f p50=%.0f p95=%.0f p99=%.0f max=%d\n",
		latencies.Mean(),
		latencies.Percentile(0.50),
		latencies.Percentile(0.95),
		latencies.Percentile(0.99),
		latencies.Max())

	if perfCSV != "" {
		if err := writeCSV(perfCSV, completed, failures, total, throughput, mbps, latencies); err != nil {
			return err
		}
		fmt.Printf("Results saved to %s\n", perfCSV)
	}
	return nil
}

// writeCSV saves the benchmark summary for plotting.
func writeCSV(path string, completed, failures int64, total time.Duration, throughput, mbps float64, latencies metrics.Histogram) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	rows := [][]string{
		{"completed", "failures", "duration_s", "req_per_s", "mib_per_s", "lat_mean_us", "lat_p50_us", "lat_p95_us", "lat_p99_us", "lat_max_us"},
		{
			strconv.FormatInt(completed, 10),
			strconv.FormatInt(failures, 10),
			fmt.Sprintf("%.3f", total.Seconds()),
			fmt.Sprintf("%.1f", throughput),
			fmt.Sprintf("%.2f", mbps),
			fmt.Sprintf("%.0f", latencies.Mean()),
			fmt.Sprintf("%.0f", latencies.Percentile(0.50)),
			fmt.Sprintf("%.0f", latencies.Percentile(0.95)),
			fmt.Sprintf("%.0f", latencies.Percentile(0.99)),
			strconv.FormatInt(latencies.Max(), 10),
		},
	}
	return w.WriteAll(rows)
}
