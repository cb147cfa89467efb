package filter

import (
	"context"
	"strings"

	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Request is what a filter sees of an incoming call.
type Request struct {
	CallID            string
	Handle            string
	CallerDisplayName string
	Provider          string
	AccountID         string
}

// Result is a filter's verdict. Log and Notify say whether the call should
// appear in the call log and raise a notification.
type Result struct {
	Block  bool
	Log    bool
	Notify bool
	Filter string
	Reason string
}

// Allow is the verdict when nothing objects.
func Allow() Result {
	return Result{Log: true, Notify: true}
}

// Filter screens one incoming call.
type Filter interface {
	Name() string
	Filter(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Filter.
type Func struct {
	FilterName string
	Fn         func(ctx context.Context, req Request) (Result, error)
}

func (f Func) Name() string { return f.FilterName }

func (f Func) Filter(ctx context.Context, req Request) (Result, error) {
	return f.Fn(ctx, req)
}

// Pipeline runs filters in order and combines their verdicts: the call is
// blocked if any filter blocks it, and logged or notified only if every
// filter agrees.
type Pipeline struct {
	filters []Filter
}

func NewPipeline(filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

func (p *Pipeline) Add(f Filter) {
	p.filters = append(p.filters, f)
}

func (p *Pipeline) Len() int { return len(p.filters) }

// Run returns the combined verdict. A filter that fails, or that has not
// answered when ctx ends, counts as allowing the call.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	log := logger.WithContext(logger.WithCallID(ctx, req.CallID))
	combined := Allow()
	var blockers, reasons []string

	for _, f := range p.filters {
		if ctx.Err() != nil {
			log.WithField("filter", f.Name()).Warn("Filter skipped, deadline reached")
			continue
		}
		res, err := runOne(ctx, f, req)
		if err != nil {
			log.WithError(err).WithField("filter", f.Name()).Warn("Filter failed, allowing call")
			continue
		}
		if res.Block {
			combined.Block = true
			blockers = append(blockers, f.Name())
			if res.Reason != "" {
				reasons = append(reasons, res.Reason)
			}
		}
		combined.Log = combined.Log && res.Log
		combined.Notify = combined.Notify && res.Notify
	}

	combined.Filter = strings.Join(blockers, ",")
	combined.Reason = strings.Join(reasons, "; ")
	log.WithFields(map[string]interface{}{
		"block":  combined.Block,
		"log":    combined.Log,
		"notify": combined.Notify,
		"filter": combined.Filter,
	}).Debug("Incoming call filtered")
	return combined
}

// runOne calls f, giving up when ctx ends.
func runOne(ctx context.Context, f Filter, req Request) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := f.Filter(ctx, req)
		ch <- outcome{res, err}
	}()
	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
