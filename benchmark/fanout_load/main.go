// Fan-out load benchmark.
//
// Answers two questions about the broadcast path under concurrent load:
//   - What is the p50/p95/p99 delivery latency from one client's send to
//     every other client's receive?
//   - How much allocation and GC work does that fan-out generate?
//
// It runs the real server in-process and drives N websocket clients. Each
// client sends timestamped frames at a target rate and records the age of
// every frame it receives from the others.
//
// With -channel=editor all clients share one replica and frames go through
// local delivery. With -channel=collab the clients are split across two
// replicas joined by an in-process Redis, so every frame crosses the relay.
//
// Run:
//
//	go run ./benchmark/fanout_load -clients=100 -duration=15s -rps=2
//	go run ./benchmark/fanout_load -channel=collab -clients=100
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/collab/pkg/channel"
	"github.com/vango-dev/collab/pkg/relay"
	"github.com/vango-dev/collab/pkg/server"
)

// headerLen is the sender ID and send timestamp prefixed to every frame.
const headerLen = 16

func main() {
	var (
		clients      = flag.Int("clients", 100, "number of concurrent websocket clients")
		duration     = flag.Duration("duration", 15*time.Second, "how long to run the load test")
		rps          = flag.Float64("rps", 2, "frames/sec sent by each client")
		payloadBytes = flag.Int("payload-bytes", 64, "bytes per frame, header included")
		channelName  = flag.String("channel", "editor", "channel to load: editor (local) or collab (relay)")
	)
	flag.Parse()

	if *clients <= 1 {
		log.Fatal("-clients must be > 1")
	}
	if *duration <= 0 {
		log.Fatal("-duration must be > 0")
	}
	if *rps <= 0 {
		log.Fatal("-rps must be > 0")
	}
	if *payloadBytes < headerLen {
		log.Fatalf("-payload-bytes must be >= %d", headerLen)
	}

	var cfg channel.Config
	for _, c := range channel.Defaults() {
		if c.Name == *channelName {
			cfg = c
		}
	}
	if cfg.Name == "" || cfg.Assistant {
		log.Fatalf("-channel must be editor or collab, got %q", *channelName)
	}

	// Reduce incidental variability a bit.
	debug.SetGCPercent(100)

	urls, stop := startReplicas(cfg)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	samplesCh := make(chan time.Duration, 4096)
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for d := range samplesCh {
			samples = append(samples, d)
		}
	}()

	var (
		totalSent   atomic.Uint64
		totalErrors atomic.Uint64
	)

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	// Connect everyone before sending so each frame fans out to the full set.
	conns := make([]*websocket.Conn, *clients)
	for i := range conns {
		conn, _, err := websocket.DefaultDialer.Dial(urls[i%len(urls)], nil)
		if err != nil {
			log.Fatalf("dial client %d: %v", i, err)
		}
		conns[i] = conn
	}

	var readers, writers sync.WaitGroup
	for i, conn := range conns {
		i, conn := i, conn
		readers.Add(1)
		go func() {
			defer readers.Done()
			readLoop(conn, samplesCh)
		}()

		writers.Add(1)
		go func() {
			defer writers.Done()
			if err := writeLoop(ctx, conn, uint64(i), cfg.Payload, *rps, *payloadBytes, &totalSent); err != nil {
				totalErrors.Add(1)
			}
		}()
	}

	writers.Wait()
	// Let in-flight deliveries land before closing.
	time.Sleep(200 * time.Millisecond)
	for _, conn := range conns {
		conn.Close()
	}
	readers.Wait()
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	sent := totalSent.Load()
	runSeconds := math.Max(0.001, (*duration).Seconds())
	expected := sent * uint64(*clients-1)
	if cfg.Delivery == channel.DeliveryRelay {
		expected = sent * uint64(*clients)
	}

	fmt.Println("=== Collab Fan-out Load Benchmark ===")
	fmt.Printf("Channel: %s (%s delivery, %d replica(s))\n", cfg.Name, cfg.Delivery, len(urls))
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Duration: %s\n", (*duration).String())
	fmt.Printf("Target per-client rate: %.2f frames/s\n", *rps)
	fmt.Printf("Payload bytes: %d\n", *payloadBytes)
	fmt.Printf("Frames sent: %d\n", sent)
	fmt.Printf("Deliveries: %d of %d expected\n", len(samples), expected)
	fmt.Printf("Errors: %d\n", totalErrors.Load())
	fmt.Printf("Throughput: %.1f deliveries/s\n", float64(len(samples))/runSeconds)
	fmt.Println()

	if len(samples) == 0 {
		fmt.Println("No latency samples recorded.")
	} else {
		fmt.Println("Delivery latency (client send → server → other client receive):")
		fmt.Printf("  min: %s\n", samples[0])
		fmt.Printf("  p50: %s\n", percentile(samples, 0.50))
		fmt.Printf("  p95: %s\n", percentile(samples, 0.95))
		fmt.Printf("  p99: %s\n", percentile(samples, 0.99))
		fmt.Printf("  max: %s\n", samples[len(samples)-1])
	}
	fmt.Println()

	fmt.Println("Go runtime / GC (process-wide):")
	fmt.Printf("  alloc:     %.2f MB\n", float64(after.TotalAlloc-before.TotalAlloc)/(1024*1024))
	fmt.Printf("  heap_live: %.2f MB\n", float64(after.HeapAlloc)/(1024*1024))
	fmt.Printf("  num_gc:    %d\n", after.NumGC-before.NumGC)
	fmt.Printf("  gc_pause:  %s (total)\n", time.Duration(after.PauseTotalNs-before.PauseTotalNs))
	fmt.Printf("  gc_cpu:    %.2f%%\n", 100*cpuFraction(afterMetrics, beforeMetrics))
	fmt.Printf("  allocs:    %.2f M objects\n", float64(afterMetrics.heapAllocsObjects-beforeMetrics.heapAllocsObjects)/1_000_000)
}

// startReplicas runs one replica for local delivery, or two replicas sharing
// an in-process Redis for relay delivery. It returns each replica's
// websocket URL.
func startReplicas(cfg channel.Config) ([]string, func()) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	replicas := 1
	var mr *miniredis.Miniredis
	if cfg.Delivery == channel.DeliveryRelay {
		replicas = 2
		var err error
		if mr, err = miniredis.Run(); err != nil {
			log.Fatalf("miniredis: %v", err)
		}
	}

	var (
		urls  []string
		stops []func()
	)
	for r := 0; r < replicas; r++ {
		deps := server.Deps{Logger: logger}
		if mr != nil {
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			deps.Bus = relay.NewRedisBus(rdb)
			stops = append(stops, func() { rdb.Close() })
		}

		sc := server.DefaultServerConfig().WithChannels(cfg)
		srv, err := server.New(sc, deps)
		if err != nil {
			log.Fatalf("server: %v", err)
		}
		ln, err := net.Listen("tcp4", "127.0.0.1:0")
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		go func() {
			_ = srv.Serve(context.Background(), ln)
		}()
		ep, _ := srv.Endpoint(cfg.Name)
		if rl := ep.Relay(); rl != nil {
			<-rl.Ready()
		}

		urls = append(urls, "ws://"+ln.Addr().String()+cfg.Path)
		stops = append(stops, func() { _ = srv.Shutdown(context.Background()) })
	}

	return urls, func() {
		slices.Reverse(stops)
		for _, stop := range stops {
			stop()
		}
		if mr != nil {
			mr.Close()
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, id uint64, payload channel.Payload, rps float64, size int, sent *atomic.Uint64) error {
	period := time.Duration(float64(time.Second) / rps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	frame := make([]byte, size)
	for i := headerLen; i < size; i++ {
		frame[i] = 'x'
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		mt := websocket.BinaryMessage
		data := frame
		if payload == channel.PayloadText {
			mt = websocket.TextMessage
			data = textFrame(id, time.Now(), size)
		} else {
			binary.BigEndian.PutUint64(frame[0:8], id)
			binary.BigEndian.PutUint64(frame[8:16], uint64(time.Now().UnixNano()))
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		sent.Add(1)
	}
}

// readLoop records the age of every frame until the connection closes.
// On relay channels a client also receives its own frames, and those count
// as deliveries.
func readLoop(conn *websocket.Conn, samples chan<- time.Duration) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sentAt, ok := frameTime(mt, data)
		if !ok {
			continue
		}
		samples <- time.Since(sentAt)
	}
}

// textFrame encodes "<id>:<unixnano>:" padded to size.
func textFrame(id uint64, at time.Time, size int) []byte {
	s := strconv.FormatUint(id, 10) + ":" + strconv.FormatInt(at.UnixNano(), 10) + ":"
	if len(s) < size {
		s += strings.Repeat("x", size-len(s))
	}
	return []byte(s)
}

func frameTime(mt int, data []byte) (time.Time, bool) {
	if mt == websocket.BinaryMessage {
		if len(data) < headerLen {
			return time.Time{}, false
		}
		return time.Unix(0, int64(binary.BigEndian.Uint64(data[8:16]))), true
	}
	parts := strings.SplitN(string(data), ":", 3)
	if len(parts) < 3 {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds   float64
	cpuGCSeconds      float64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}
