// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command rtdemo drives the gpurt runtime with a synthetic span workload and
// prints the resulting resource statistics.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpurt"
	"github.com/gogpu/gpurt/backend"
	"github.com/gogpu/gpurt/backend/host"
	"github.com/gogpu/gpurt/cqpool"
	"github.com/gogpu/gpurt/device"
)

// spanSize is the record size: x, y, width as uint32 and coverage as float32.
const spanSize = 16

func main() {
	var (
		backendName = flag.String("backend", host.Name, "device backend (empty for the default)")
		spans       = flag.Int("spans", 200000, "number of spans to produce")
		batch       = flag.Int("batch", 512, "spans per snapshot")
		ringSize    = flag.Uint("ring", 4096, "extent ring capacity, a power of two")
		queues      = flag.Int("queues", 4, "command queues in the pool")
		arena       = flag.Uint64("arena", 256<<10, "device arena size in bytes")
		workers     = flag.Int("workers", 0, "host backend workers (0 for GOMAXPROCS)")
		asJSON      = flag.Bool("json", false, "print statistics as JSON")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		gpurt.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if *workers > 0 && *backendName == host.Name {
		backend.Register(host.Name, func() (device.Device, error) {
			return host.New(host.WithWorkers(*workers)), nil
		})
	}

	dev, err := backend.Open(*backendName)
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer func() { _ = dev.Close() }()
	if dev.Name() != host.Name {
		log.Fatalf("rtdemo kernels run on the %s backend only, got %s", host.Name, dev.Name())
	}

	rt, err := gpurt.New(dev,
		gpurt.WithDeviceArena(*arena, 0, 0),
		gpurt.WithQueues("rtdemo", *queues, cqpool.Block),
	)
	if err != nil {
		log.Fatalf("create runtime: %v", err)
	}

	var coverage atomic.Uint64
	kernel := host.Func(func(b []device.Binding) error {
		data := b[0].Bytes()
		var sum float64
		for off := 0; off+spanSize <= len(data); off += spanSize {
			w := binary.LittleEndian.Uint32(data[off+8:])
			c := math.Float32frombits(binary.LittleEndian.Uint32(data[off+12:]))
			sum += float64(w) * float64(c)
		}
		coverage.Add(uint64(sum))
		return nil
	})

	ring := uint32(*ringSize) //nolint:gosec // G115: flag value
	if *batch <= 0 || uint(*batch) > *ringSize {
		log.Fatalf("batch %d must be between 1 and the ring size %d", *batch, *ringSize)
	}
	slots := rt.NewRing(ring, ring, spanSize)
	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // G404: synthetic workload

	start := time.Now()
	for i := 0; i < *spans; i++ {
		if slots.Ring().IsFull() {
			rt.Scheduler().DrainOnce()
		}
		_, rec := slots.Reserve()
		binary.LittleEndian.PutUint32(rec[0:], rng.Uint32N(4096))
		binary.LittleEndian.PutUint32(rec[4:], uint32(i/1024)) //nolint:gosec // G115: bounded by flag
		binary.LittleEndian.PutUint32(rec[8:], 1+rng.Uint32N(64))
		binary.LittleEndian.PutUint32(rec[12:], math.Float32bits(rng.Float32()))

		if (i+1)%*batch == 0 || i == *spans-1 {
			slots.Ring().Checkpoint()
			if err := rt.Submit(slots, rt.Snapshot(slots.Ring()), kernel); err != nil {
				log.Fatalf("submit: %v", err)
			}
		}
	}
	if err := rt.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}
	elapsed := time.Since(start)
	stats := rt.Stats()
	if err := rt.Validate(); err != nil {
		log.Fatalf("validate: %v", err)
	}
	if err := rt.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}

	if *asJSON {
		out, err := sonnet.Marshal(struct {
			Spans    int         `json:"spans"`
			Coverage uint64      `json:"coverage"`
			Elapsed  string      `json:"elapsed"`
			Stats    gpurt.Stats `json:"stats"`
		}{*spans, coverage.Load(), elapsed.String(), stats})
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	p := message.NewPrinter(language.English)
	p.Printf("%d spans in %v (%.0f spans/s), coverage %d\n",
		*spans, elapsed.Round(time.Microsecond), float64(*spans)/elapsed.Seconds(), coverage.Load())
	fmt.Println(stats)
}
