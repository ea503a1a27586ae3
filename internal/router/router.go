// Package router resolves AWB numbers to courier adapters and fans
// tracking work out across them. Resolution failures and adapter failures
// both come back as error-carrying results, never as panics or lost rows.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/metrics"
	"github.com/adyam/logistics-tracker/internal/providers"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

// ErrUnknownProvider is returned by Resolve when neither the hint nor the
// AWB shape identifies a courier.
var ErrUnknownProvider = errors.New("no courier matches AWB")

// keywordTags maps hint substrings to courier tags, checked in order so the
// more specific names win. Matching is case-insensitive substring matching
// against the free-text courier hint stored with a shipment.
var keywordTags = []struct {
	keyword string
	tag     providers.Tag
}{
	{"fedex", providers.TagFedEx},
	{"dhl", providers.TagDHL},
	{"icl", providers.TagICL},
	{"unitedexpress", providers.TagUnitedExpress},
	{"united", providers.TagUnitedExpress},
	{"express", providers.TagUnitedExpress},
	{"courierwala", providers.TagCourierWala},
	{"wala", providers.TagCourierWala},
	{"atlantic", providers.TagAtlantic},
}

var (
	fedexAWBPattern = regexp.MustCompile(`^\d{12}$`)
	dhlAWBPattern   = regexp.MustCompile(`^\d{8,10}$`)
)

// Router owns the adapter registry and the resolution rules.
type Router struct {
	registry map[providers.Tag]tracking.Provider
	clock    clock.Clock
	logger   *zap.Logger
}

// New builds a router over the given registry.
func New(registry map[providers.Tag]tracking.Provider, clk clock.Clock, logger *zap.Logger) *Router {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, clock: clk, logger: logger}
}

// Resolve picks the courier for an AWB. The hint is consulted first; when it
// names no known courier, the AWB shape decides: 12 digits is FedEx, 8 to 10
// digits is DHL.
func (r *Router) Resolve(awb, hint string) (tracking.Provider, error) {
	if tag, ok := matchHint(hint); ok {
		if p, ok := r.registry[tag]; ok {
			return p, nil
		}
	}

	awb = strings.TrimSpace(awb)
	switch {
	case fedexAWBPattern.MatchString(awb):
		return r.registry[providers.TagFedEx], nil
	case dhlAWBPattern.MatchString(awb):
		return r.registry[providers.TagDHL], nil
	}
	return nil, fmt.Errorf("%w: awb %q hint %q", ErrUnknownProvider, awb, hint)
}

func matchHint(hint string) (providers.Tag, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return "", false
	}
	for _, kt := range keywordTags {
		if strings.Contains(hint, kt.keyword) {
			return kt.tag, true
		}
	}
	return "", false
}

// Track resolves and tracks one AWB. Failures come back as error-carrying
// results so a bad shipment never aborts a whole cycle.
func (r *Router) Track(ctx context.Context, awb, hint string) tracking.Result {
	p, err := r.Resolve(awb, hint)
	if err != nil {
		r.logger.Warn("courier resolution failed",
			zap.String("awb", awb), zap.String("hint", hint))
		return tracking.ErrorResult(awb, "", r.clock.Now(), err.Error())
	}

	result, err := p.Track(ctx, awb)
	if err != nil {
		r.logger.Warn("tracking attempt failed",
			zap.String("awb", awb),
			zap.String("provider", p.Name()),
			zap.Error(err))
		metrics.ObserveTrackFailure(p.Name())
		return tracking.ErrorResult(awb, p.Name(), r.clock.Now(), err.Error())
	}
	if result.Failed() {
		metrics.ObserveTrackFailure(p.Name())
	}
	return result
}

// Request is one AWB/hint pair for TrackMany.
type Request struct {
	AWB  string
	Hint string
}

// TrackMany tracks a batch with bounded concurrency, preserving input order
// in the returned slice. A concurrency of 1 serializes the batch.
func (r *Router) TrackMany(ctx context.Context, reqs []Request, concurrency int) []tracking.Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]tracking.Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i] = r.Track(ctx, req.AWB, req.Hint)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
