package aliasing

import "strings"

// Resolver resolves topic and source names to their canonical forms.
// Thread-safe for concurrent use (immutable after construction).
//
// Resolution is a single exact-match lookup; unknown names pass through
// unchanged so producers without aliases are unaffected.
type Resolver struct {
	topics  map[string]string
	sources map[string]string
}

// NewResolver creates a resolver from config.
//
// Alias keys and values are trimmed; entries with an empty key or value are
// skipped. If config is nil or has no aliases, returns a no-op resolver
// (passthrough).
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{
		topics:  make(map[string]string),
		sources: make(map[string]string),
	}

	if cfg == nil {
		return r
	}

	for alias, canonical := range cfg.TopicAliases {
		alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
		if alias == "" || canonical == "" {
			continue
		}

		r.topics[alias] = canonical
	}

	for alias, canonical := range cfg.SourceAliases {
		alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
		if alias == "" || canonical == "" {
			continue
		}

		r.sources[alias] = canonical
	}

	return r
}

// AliasCount returns the total number of configured aliases.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.topics) + len(r.sources)
}

// ResolveTopic returns the canonical topic for an alias, or the input
// unchanged when no alias is configured.
func (r *Resolver) ResolveTopic(topic string) string {
	if r == nil {
		return topic
	}

	if canonical, ok := r.topics[topic]; ok {
		return canonical
	}

	return topic
}

// ResolveSource returns the canonical source for an alias, or the input
// unchanged when no alias is configured.
func (r *Resolver) ResolveSource(source string) string {
	if r == nil {
		return source
	}

	if canonical, ok := r.sources[source]; ok {
		return canonical
	}

	return source
}
