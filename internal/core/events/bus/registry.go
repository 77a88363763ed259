package bus

import (
	"slices"
	"sort"

	"github.com/zeusync/pocketbus/internal/core/events/pattern"
)

type subscription struct {
	id       string
	pattern  *pattern.Pattern
	handler  Handler
	priority int
	filter   Filter
}

// SubscriptionInfo is a read-only view of a registered subscription.
type SubscriptionInfo struct {
	ID        string
	Pattern   string
	Prefix    string
	Priority  int
	HasFilter bool
}

// registry keeps subscriptions in registration order plus the reference
// count of every transport prefix they need. It is not safe for concurrent
// use; Client guards it with its mutex.
type registry struct {
	subs       []*subscription
	byID       map[string]*subscription
	prefixRefs map[string]int
}

func newRegistry() *registry {
	return &registry{
		byID:       make(map[string]*subscription),
		prefixRefs: make(map[string]int),
	}
}

// add registers s and reports whether its prefix went from unused to used.
func (r *registry) add(s *subscription) (prefix string, first bool) {
	r.subs = append(r.subs, s)
	r.byID[s.id] = s
	prefix = s.pattern.Prefix()
	r.prefixRefs[prefix]++
	return prefix, r.prefixRefs[prefix] == 1
}

// remove drops the subscription with id and reports whether its prefix is no
// longer used by anyone.
func (r *registry) remove(id string) (prefix string, last, ok bool) {
	s, ok := r.byID[id]
	if !ok {
		return "", false, false
	}
	delete(r.byID, id)
	if i := slices.Index(r.subs, s); i >= 0 {
		r.subs = slices.Delete(r.subs, i, i+1)
	}
	prefix = s.pattern.Prefix()
	r.prefixRefs[prefix]--
	if r.prefixRefs[prefix] <= 0 {
		delete(r.prefixRefs, prefix)
		return prefix, true, true
	}
	return prefix, false, true
}

// snapshot returns the subscriptions in registration order.
func (r *registry) snapshot() []*subscription {
	return slices.Clone(r.subs)
}

// prefixes returns every prefix with a positive count, sorted.
func (r *registry) prefixes() []string {
	out := make([]string, 0, len(r.prefixRefs))
	for p := range r.prefixRefs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *registry) info() []SubscriptionInfo {
	out := make([]SubscriptionInfo, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, SubscriptionInfo{
			ID:        s.id,
			Pattern:   s.pattern.String(),
			Prefix:    s.pattern.Prefix(),
			Priority:  s.priority,
			HasFilter: s.filter != nil,
		})
	}
	return out
}
