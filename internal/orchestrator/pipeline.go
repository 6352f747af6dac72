package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
)

const (
	commandBuffer = 256
	dataBuffer    = 64
)

// Endpoint is the hub's end of one stage's command pair.
type Endpoint struct {
	name   Name
	inbox  chan command.Command
	events chan command.Command
	done   chan struct{}
}

// Name returns the stage this endpoint talks to.
func (e *Endpoint) Name() Name { return e.name }

// Send queues c for the stage without blocking.
func (e *Endpoint) Send(c command.Command) error {
	select {
	case <-e.done:
		return &StageUnavailableError{Stage: e.name, Reason: "stage exited"}
	default:
	}
	select {
	case e.inbox <- c:
		return nil
	default:
		return &StageUnavailableError{Stage: e.name, Reason: "command inbox full"}
	}
}

// Poll returns the next pending event from the stage, if any, without blocking.
func (e *Endpoint) Poll() (command.Command, bool, error) {
	select {
	case c, ok := <-e.events:
		if !ok {
			return command.Command{}, false, &StageUnavailableError{Stage: e.name, Reason: "event channel closed"}
		}
		return c, true, nil
	default:
		return command.Command{}, false, nil
	}
}

// Pipeline owns the channel wiring of the seven running stages.
type Pipeline struct {
	endpoints [len(Order)]*Endpoint
	data      [len(Order)]chan []byte
	registry  *Registry

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// StartAll wires and launches one stage per pipeline slot. Data flows
// vio → vad → asr → slu → dm → nlg → tts → vio.
func StartAll(ctx context.Context, stages map[Name]Stage, registry *Registry) (*Pipeline, error) {
	for _, name := range Order {
		if stages[name] == nil {
			return nil, fmt.Errorf("start pipeline: no stage for %s", name)
		}
	}
	if len(stages) != len(Order) {
		return nil, fmt.Errorf("start pipeline: %d stages given, want %d", len(stages), len(Order))
	}
	if registry == nil {
		registry = NewRegistry()
	}

	p := &Pipeline{registry: registry}
	for i, name := range Order {
		p.endpoints[i] = &Endpoint{
			name:   name,
			inbox:  make(chan command.Command, commandBuffer),
			events: make(chan command.Command, commandBuffer),
			done:   make(chan struct{}),
		}
		p.data[i] = make(chan []byte, dataBuffer)
	}

	for i, name := range Order {
		ep := p.endpoints[i]
		ports := Ports{
			Commands: ep.inbox,
			Events:   ep.events,
			In:       p.data[(i+len(Order)-1)%len(Order)],
			Out:      p.data[i],
		}
		id := uuid.NewString()
		registry.add(name, id)

		p.wg.Add(1)
		go p.run(ctx, stages[name], ep, ports)
		slog.Info("stage started", "stage", name, "id", id)
	}
	return p, nil
}

func (p *Pipeline) run(ctx context.Context, st Stage, ep *Endpoint, ports Ports) {
	defer p.wg.Done()
	err := st.Run(ctx, ports)
	close(ep.done)
	close(ep.events)

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("stage failed", "stage", ep.name, "error", err)
		p.registry.setStatus(ep.name, StatusFailed, err)
		p.mu.Lock()
		p.errs = append(p.errs, fmt.Errorf("stage %s: %w", ep.name, err))
		p.mu.Unlock()
		return
	}
	p.registry.setStatus(ep.name, StatusStopped, nil)
	slog.Info("stage stopped", "stage", ep.name)
}

// Endpoint returns the hub-side endpoint for name.
func (p *Pipeline) Endpoint(name Name) *Endpoint {
	i := Index(name)
	if i < 0 {
		return nil
	}
	return p.endpoints[i]
}

// Registry returns the identities and status of the launched stages.
func (p *Pipeline) Registry() *Registry { return p.registry }

// StopAll sends stop() to every stage. Stages that already exited are skipped.
func (p *Pipeline) StopAll(sender string) {
	for _, ep := range p.endpoints {
		if err := ep.Send(command.New(command.Stop, nil, sender, string(ep.name))); err != nil {
			slog.Warn("stop stage", "stage", ep.name, "error", err)
		}
	}
}

// Drain discards every pending message the hub can read: stage events and
// in-flight data. It never blocks.
func (p *Pipeline) Drain() int {
	n := 0
	for _, ep := range p.endpoints {
		n += drain(ep.events)
	}
	for _, ch := range p.data {
		n += drain(ch)
	}
	return n
}

func drain[T any](ch chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Wait blocks until every launched stage has returned and joins their errors.
func (p *Pipeline) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}
