// Package contentblock translates compiled rule sets into the content-blocker
// payload accepted by the page-rendering collaborator and applies them per
// tab, degrading to a truncated set instead of ever disabling blocking.
package contentblock

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/filter"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/shared/id"
)

// ErrCompilationRejected is returned by a RuleTarget when the payload exceeds
// what the renderer will compile.
var ErrCompilationRejected = errors.New("content blocker compilation rejected")

// RuleTarget is the renderer-side content-filter application point.
type RuleTarget interface {
	ApplyContentRules(tab id.SiteID, payload []byte, ruleCount int) error
}

// Applied reports what a rule-set activation actually installed.
type Applied struct {
	Tab       id.SiteID
	Rules     int
	Truncated bool
	Dropped   int
}

// Adapter owns rule-set translation and activation.
type Adapter struct {
	target  RuleTarget
	ceiling int
	log     *logging.Logger
}

// NewAdapter creates an adapter. ceiling caps the rules offered to the target
// per activation; zero means no preemptive cap.
func NewAdapter(target RuleTarget, ceiling int, log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.NewNop()
	}
	return &Adapter{target: target, ceiling: ceiling, log: log}
}

// Activate translates the rule set and applies it to one tab. If the target
// rejects the payload, the set is truncated keeping the busiest domain
// buckets and retried; blocking is never switched off wholesale.
func (a *Adapter) Activate(rs *filter.RuleSet, tab id.SiteID) (Applied, error) {
	blocks, exceptions := orderForPayload(rs)
	total := len(blocks) + len(exceptions)

	limit := total
	if a.ceiling > 0 && limit > a.ceiling {
		limit = a.ceiling
	}

	prev := -1
	for {
		// Truncation drops block rules from the least-used buckets;
		// exceptions are always kept so truncation can only under-block,
		// never break a site an exception was written for.
		nblocks := limit - len(exceptions)
		if nblocks < 0 {
			nblocks = 0
		}
		if nblocks > len(blocks) {
			nblocks = len(blocks)
		}
		subset := make([]int, 0, nblocks+len(exceptions))
		subset = append(subset, blocks[:nblocks]...)
		subset = append(subset, exceptions...)
		limit = len(subset)
		if limit == 0 || limit == prev {
			return Applied{}, fmt.Errorf("content rules rejected down to %d rules: %w", limit, ErrCompilationRejected)
		}
		prev = limit

		payload, err := marshalRules(rs, subset)
		if err != nil {
			return Applied{}, fmt.Errorf("failed to encode content rules: %w", err)
		}

		err = a.target.ApplyContentRules(tab, payload, limit)
		if err == nil {
			applied := Applied{
				Tab:       tab,
				Rules:     limit,
				Truncated: limit < total,
				Dropped:   total - limit,
			}
			if applied.Truncated {
				a.log.Warn("content rules truncated",
					zap.String("site_id", tab.String()),
					zap.Int("applied", applied.Rules),
					zap.Int("dropped", applied.Dropped))
			}
			return applied, nil
		}

		if !errors.Is(err, ErrCompilationRejected) {
			return Applied{}, fmt.Errorf("failed to apply content rules: %w", err)
		}
		limit /= 2
	}
}

// orderForPayload splits the set into activation order: block rules grouped
// by domain bucket (largest buckets first, so truncation drops the least-used
// anchors), then global block rules; exceptions separately. The target
// applies exceptions as ignore-previous-rules, so they must come last.
func orderForPayload(rs *filter.RuleSet) (blocks, exceptions []int) {
	rules := rs.Rules()
	buckets := rs.AnchorBuckets()

	anchors := make([]string, 0, len(buckets))
	for anchor := range buckets {
		if anchor != "" {
			anchors = append(anchors, anchor)
		}
	}
	sort.Slice(anchors, func(i, j int) bool {
		bi, bj := buckets[anchors[i]], buckets[anchors[j]]
		if len(bi) != len(bj) {
			return len(bi) > len(bj)
		}
		return anchors[i] < anchors[j]
	})

	appendBucket := func(idxs []int) {
		for _, i := range idxs {
			if rules[i].Exception {
				exceptions = append(exceptions, i)
			} else {
				blocks = append(blocks, i)
			}
		}
	}
	for _, anchor := range anchors {
		appendBucket(buckets[anchor])
	}
	appendBucket(buckets[""])

	return blocks, exceptions
}

func marshalRules(rs *filter.RuleSet, idxs []int) ([]byte, error) {
	rules := rs.Rules()
	out := make([]webkitRule, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, translateRule(&rules[i]))
	}
	return sonic.Marshal(out)
}
