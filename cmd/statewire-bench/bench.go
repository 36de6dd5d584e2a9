// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/jamiealquiza/tachymeter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/statewire/statewire/client"
	"github.com/statewire/statewire/model"
)

var (
	url      string
	conns    int
	updates  int
	keyPath  string
	interval stdlibtime.Duration
	timeout  stdlibtime.Duration
	bench    = &cobra.Command{
		Use:   "statewire-bench",
		Short: "measures update fan-out latency against a running statewire server",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				log.Panic(err)
			}
		},
	}
	initFlags = func() {
		bench.Flags().StringVar(&url, "url", "ws://localhost:8080/", "server url")
		bench.Flags().IntVar(&conns, "conns", 10, "subscriber connections")
		bench.Flags().IntVar(&updates, "updates", 1000, "updates to publish")
		bench.Flags().StringVar(&keyPath, "key", "bench.latency", "canonical key to publish under")
		bench.Flags().DurationVar(&interval, "interval", stdlibtime.Millisecond, "pause between updates")
		bench.Flags().DurationVar(&timeout, "timeout", stdlibtime.Minute, "overall run deadline")
	}
)

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	key := model.ParseKey(keyPath)
	expected := int64(conns * updates)
	meter := tachymeter.New(&tachymeter.Config{Size: conns * updates})
	var delivered atomic.Int64

	subscribers := make([]*client.Session, 0, conns)
	defer func() {
		for _, subscriber := range subscribers {
			_ = subscriber.Close() //nolint:errcheck // Tearing down.
		}
	}()
	for i := 0; i < conns; i++ {
		subscriber := client.New(&client.Config{URL: url})
		if err := subscriber.Connect(ctx); err != nil {
			return errors.Wrapf(err, "subscriber %v failed to connect", i)
		}
		subscriber.Subscribe(key, func(data json.RawMessage) {
			sentAt := gjson.GetBytes(data, "sentAt").Int()
			meter.AddTime(stdlibtime.Since(stdlibtime.Unix(0, sentAt)))
			delivered.Add(1)
		})
		subscribers = append(subscribers, subscriber)
	}

	publisher := client.New(&client.Config{URL: url})
	if err := publisher.Connect(ctx); err != nil {
		return errors.Wrap(err, "publisher failed to connect")
	}
	defer publisher.Close() //nolint:errcheck // Tearing down.

	bar := progressbar.Default(int64(updates))
	for seq := 0; seq < updates; seq++ {
		payload := fmt.Sprintf(`{"seq":%d,"sentAt":%d}`, seq, stdlibtime.Now().UnixNano())
		if err := publisher.Publish(key, json.RawMessage(payload)); err != nil {
			return errors.Wrapf(err, "failed to publish update %v", seq)
		}
		_ = bar.Add(1) //nolint:errcheck // Cosmetic.
		stdlibtime.Sleep(interval)
	}

	for delivered.Load() < expected {
		if ctx.Err() != nil {
			log.Printf("WARN: deadline hit with %v of %v deliveries", delivered.Load(), expected)

			break
		}
		stdlibtime.Sleep(10 * stdlibtime.Millisecond)
	}
	fmt.Println(meter.Calc().String())

	return nil
}

func init() {
	initFlags()
}

func main() {
	if err := bench.Execute(); err != nil {
		log.Panic(err)
	}
}
