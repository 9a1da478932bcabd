package aliasing

import "testing"

func TestResolver_Passthrough(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(nil)

	if got := resolver.ResolveTopic("application-logs"); got != "application-logs" {
		t.Errorf("ResolveTopic() = %q, want passthrough", got)
	}

	if got := resolver.ResolveSource("service-a"); got != "service-a" {
		t.Errorf("ResolveSource() = %q, want passthrough", got)
	}

	if resolver.AliasCount() != 0 {
		t.Errorf("AliasCount() = %d, want 0", resolver.AliasCount())
	}
}

func TestResolver_TopicAlias(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(&Config{
		TopicAliases: map[string]string{
			"app-logs": "application-logs",
		},
	})

	if got := resolver.ResolveTopic("app-logs"); got != "application-logs" {
		t.Errorf("ResolveTopic() = %q, want %q", got, "application-logs")
	}

	// Unknown topics pass through unchanged
	if got := resolver.ResolveTopic("security-logs"); got != "security-logs" {
		t.Errorf("ResolveTopic() = %q, want passthrough", got)
	}
}

func TestResolver_SourceAlias(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(&Config{
		SourceAliases: map[string]string{
			"svc-a": "service-a",
		},
	})

	if got := resolver.ResolveSource("svc-a"); got != "service-a" {
		t.Errorf("ResolveSource() = %q, want %q", got, "service-a")
	}
}

func TestResolver_SkipsEmptyEntries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(&Config{
		TopicAliases: map[string]string{
			"":         "canonical",
			"  ":       "canonical",
			"app-logs": "",
			"valid":    "application-logs",
		},
	})

	if resolver.AliasCount() != 1 {
		t.Errorf("AliasCount() = %d, want 1", resolver.AliasCount())
	}
}

func TestResolver_TrimsEntries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(&Config{
		TopicAliases: map[string]string{
			" app-logs ": " application-logs ",
		},
	})

	if got := resolver.ResolveTopic("app-logs"); got != "application-logs" {
		t.Errorf("ResolveTopic() = %q, want trimmed canonical", got)
	}
}

func TestResolver_NilReceiver(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var resolver *Resolver

	if got := resolver.ResolveTopic("t"); got != "t" {
		t.Errorf("nil resolver ResolveTopic() = %q, want passthrough", got)
	}

	if resolver.AliasCount() != 0 {
		t.Errorf("nil resolver AliasCount() = %d, want 0", resolver.AliasCount())
	}
}
