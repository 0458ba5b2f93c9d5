package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
	"github.com/vmgridlabs/updpolicy/pkg/telemetry"
)

const tracerName = "updpolicy.evaluator"

// EvaluatorOptions control evaluator construction.
type EvaluatorOptions struct {
	// Inventory supplies tag and type facts. Required.
	Inventory domain.Inventory
	// CacheSize bounds the verdict cache (LRU). Zero or negative disables
	// caching; evaluation is cheap enough that the cache is opt-in.
	CacheSize int
	// Metrics receives evaluation counters. Optional.
	Metrics *telemetry.Metrics
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Evaluator evaluates connection requests against an immutable rule set,
// first match wins. It holds no rule state itself: the rule set is passed
// per call so concurrent evaluations against different snapshots never
// interfere.
type Evaluator struct {
	inv     domain.Inventory
	cache   *verdictCache
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewEvaluator constructs an Evaluator for the supplied options.
func NewEvaluator(opts EvaluatorOptions) (*Evaluator, error) {
	if opts.Inventory == nil {
		return nil, errors.New("policy evaluator requires an inventory")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache *verdictCache
	if opts.CacheSize > 0 {
		cache = newVerdictCache(opts.CacheSize)
	}

	return &Evaluator{
		inv:     opts.Inventory,
		cache:   cache,
		metrics: opts.Metrics,
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
		logger:  logger,
	}, nil
}

// Evaluate scans rules in stored order and returns the verdict of the first
// rule whose source and destination matchers both accept the request. It
// returns domain.ErrNoMatch (wrapped) when no rule matches, including the
// empty rule set; callers must treat that as an implicit deny.
//
// Evaluation is read-only and side-effect free: it is a pure function of
// (rules, request, inventory facts).
func (e *Evaluator) Evaluate(ctx context.Context, rules domain.RuleSet, req domain.Request) (domain.Verdict, error) {
	_, span := e.tracer.Start(ctx, "policy.evaluate", trace.WithAttributes(
		attribute.String("policy.source", req.Source),
		attribute.String("policy.dest", req.Dest),
		attribute.Int("policy.rules", len(rules)),
	))
	defer span.End()

	key, cacheable := e.cacheKey(rules, req)
	if cacheable {
		if verdict, ok := e.cache.Get(key); ok {
			e.metrics.RecordCacheHit()
			span.SetAttributes(
				attribute.Bool("policy.cached", true),
				attribute.String("policy.verdict", string(verdict.Action)),
			)
			return verdict, nil
		}
		e.metrics.RecordCacheMiss()
	}

	for i, rule := range rules {
		if !rule.Source.Matches(req.Source, e.inv) || !rule.Dest.Matches(req.Dest, e.inv) {
			continue
		}

		verdict := domain.Verdict{Action: rule.Action, Target: rule.Target, Matched: rule}
		e.metrics.RecordEvaluation(string(rule.Action), i+1)
		span.SetAttributes(
			attribute.String("policy.verdict", string(rule.Action)),
			attribute.Int("policy.rule_line", rule.Line),
		)
		e.logger.Debug("policy verdict",
			"source", req.Source,
			"dest", req.Dest,
			"verdict", string(rule.Action),
			"target", rule.Target,
			"rule_line", rule.Line,
		)

		if cacheable {
			e.cache.Add(key, verdict)
		}
		return verdict, nil
	}

	e.metrics.RecordEvaluation(telemetry.VerdictNoMatch, 0)
	span.SetAttributes(attribute.String("policy.verdict", telemetry.VerdictNoMatch))
	e.logger.Warn("no policy rule matched", "source", req.Source, "dest", req.Dest)

	return domain.Verdict{}, fmt.Errorf("evaluate %s -> %s: %w", req.Source, req.Dest, domain.ErrNoMatch)
}

// FlushCache clears cached verdicts. Entries are already scoped to the rule
// set they were computed from, so this is memory hygiene on snapshot swaps,
// not a correctness requirement. Safe to call concurrently.
func (e *Evaluator) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// cacheKey fingerprints the rule set, the request, and the attribute facts
// that matching can consult. Binding the rule set into the key means an
// in-flight evaluation against an old snapshot can never seed a verdict that
// a later evaluation against the new snapshot would be served. Rule line
// numbers are excluded so two loads of identical content share entries.
func (e *Evaluator) cacheKey(rules domain.RuleSet, req domain.Request) (string, bool) {
	if e.cache == nil {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, strconv.Itoa(len(rules)))
	for _, rule := range rules {
		writeCacheKeyField(h, rule.Source.String())
		writeCacheKeyField(h, rule.Dest.String())
		writeCacheKeyField(h, string(rule.Action))
		writeCacheKeyField(h, rule.Target)
	}
	writeCacheKeyField(h, req.Source)
	writeCacheKeyField(h, req.Dest)
	writeIdentityFacts(h, e.inv, req.Source)
	writeIdentityFacts(h, e.inv, req.Dest)

	return hex.EncodeToString(h.Sum(nil)), true
}

func writeIdentityFacts(h hash.Hash, inv domain.Inventory, identity string) {
	tags := append([]string(nil), inv.Tags(identity)...)
	sort.Strings(tags)
	writeCacheKeyField(h, strconv.Itoa(len(tags)))
	for _, tag := range tags {
		writeCacheKeyField(h, tag)
	}
	writeCacheKeyField(h, inv.Type(identity))
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}
