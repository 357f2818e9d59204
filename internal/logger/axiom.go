package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	axiomBatchSize = 200
	axiomQueueSize = 1000
	axiomTimeout   = 15 * time.Second
)

// ingester is the part of the Axiom client the shipper needs.
type ingester interface {
	IngestEvents(ctx context.Context, id string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// shipper is a zerolog.LevelWriter that queues info-and-above lines and
// sends them to an Axiom dataset in batches from a background goroutine.
// A full queue drops lines rather than blocking the caller.
type shipper struct {
	api       ingester
	dataset   string
	service   string
	batchSize int

	queue   chan axiom.Event
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newAxiomShipper(opts Options) (*shipper, error) {
	copts := []axiom.Option{axiom.SetToken(opts.AxiomAPIKey)}
	if opts.AxiomOrgID != "" {
		copts = append(copts, axiom.SetOrganizationID(opts.AxiomOrgID))
	}
	c, err := axiom.NewClient(copts...)
	if err != nil {
		return nil, err
	}
	dataset := opts.AxiomDataset
	if dataset == "" {
		dataset = "dev_pagepicker"
	}
	return newShipper(c, dataset, opts.Service, opts.AxiomFlush, axiomBatchSize), nil
}

func newShipper(api ingester, dataset, service string, every time.Duration, batchSize int) *shipper {
	if every <= 0 {
		every = 10 * time.Second
	}
	s := &shipper{
		api:       api,
		dataset:   dataset,
		service:   service,
		batchSize: batchSize,
		queue:     make(chan axiom.Event, axiomQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run(every)
	return s
}

func (s *shipper) Write(p []byte) (int, error) { return s.WriteLevel(zerolog.NoLevel, p) }

func (s *shipper) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.InfoLevel {
		return len(p), nil
	}
	select {
	case <-s.stop:
		s.dropped.Add(1)
		return len(p), nil
	default:
	}
	select {
	case s.queue <- axiomEvent(p, s.service):
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

func (s *shipper) run(every time.Duration) {
	defer close(s.done)
	tick := time.NewTicker(every)
	defer tick.Stop()

	batch := make([]axiom.Event, 0, s.batchSize)
	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) < s.batchSize {
				continue
			}
		case <-tick.C:
		case <-s.stop:
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
				default:
					s.send(batch)
					return
				}
			}
		}
		batch = s.send(batch)
	}
}

// send ingests batch and returns it emptied for reuse.
func (s *shipper) send(batch []axiom.Event) []axiom.Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), axiomTimeout)
	defer cancel()
	st, err := s.api.IngestEvents(ctx, s.dataset, batch)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "axiom ingest: %v\n", err)
	case st != nil && st.Failed > 0:
		fmt.Fprintf(os.Stderr, "axiom ingest: %d of %d events rejected\n", st.Failed, len(batch))
	}
	return batch[:0]
}

// Close sends whatever is queued and stops the shipper.
func (s *shipper) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	if n := s.dropped.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "axiom: dropped %d log lines\n", n)
	}
	return nil
}

// axiomEvent turns one JSON log line into an event. Lines that are not JSON
// are shipped as an info message.
func axiomEvent(p []byte, service string) axiom.Event {
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{"message": string(p), "level": "info"}
	}
	if _, ok := ev["service"]; !ok {
		ev["service"] = service
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	return ev
}
