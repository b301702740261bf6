package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider/providertest"
)

func TestNewChain_Empty(t *testing.T) {
	t.Parallel()
	_, err := provider.NewChain(nil)
	if !errors.Is(err, provider.ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestNewChain_NilProvider(t *testing.T) {
	t.Parallel()
	_, err := provider.NewChain([]provider.ChainEntry{
		{Name: "broken", Role: provider.RoleTutor},
	})
	if !errors.Is(err, provider.ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestChain_RoutesByRole(t *testing.T) {
	t.Parallel()

	tutor := providertest.Reply("tutor")
	eval := providertest.Reply("eval")
	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "tutor", Provider: tutor, Role: provider.RoleTutor},
		{Name: "eval", Provider: eval, Role: provider.RoleEvaluator},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := chain.For(provider.RoleEvaluator).Complete(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "eval" {
		t.Errorf("content = %q, want eval", resp.Content)
	}
	if tutor.CompleteCalls != 0 {
		t.Error("tutor provider should not serve evaluator role")
	}
}

func TestChain_Failover(t *testing.T) {
	t.Parallel()

	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "p1", Provider: providertest.Fail(provider.ErrProviderDown), Role: provider.RoleTutor},
		{Name: "p2", Provider: providertest.Reply("p2"), Role: provider.RoleFallback},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := chain.Complete(context.Background(), provider.RoleTutor, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "p2" {
		t.Errorf("content = %q, want p2", resp.Content)
	}
}

func TestChain_FallbackScopedToRoles(t *testing.T) {
	t.Parallel()

	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "p1", Provider: providertest.Fail(provider.ErrRateLimit), Role: provider.RoleTangent},
		{
			Name:        "p2",
			Provider:    providertest.Reply("p2"),
			Role:        provider.RoleFallback,
			FallbackFor: []provider.Role{provider.RoleTutor},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = chain.Complete(context.Background(), provider.RoleTangent, provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrAllProviders) {
		t.Fatalf("err = %v, want ErrAllProviders", err)
	}
	if !errors.Is(err, provider.ErrRateLimit) {
		t.Errorf("err = %v, want it to wrap ErrRateLimit", err)
	}
}

func TestChain_NonRetryableStops(t *testing.T) {
	t.Parallel()

	p2 := providertest.Reply("p2")
	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "p1", Provider: providertest.Fail(provider.ErrContextLength), Role: provider.RoleTutor},
		{Name: "p2", Provider: p2, Role: provider.RoleTutor},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = chain.Complete(context.Background(), provider.RoleTutor, provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrContextLength) {
		t.Fatalf("err = %v, want ErrContextLength", err)
	}
	if p2.CompleteCalls > 0 {
		t.Error("p2 should not be called after non-retryable error")
	}
}

func TestChain_NoProviderForRole(t *testing.T) {
	t.Parallel()

	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "p1", Provider: providertest.Reply("x"), Role: provider.RoleTutor},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = chain.Complete(context.Background(), provider.RoleEvaluator, provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestChain_StreamFailover(t *testing.T) {
	t.Parallel()

	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "p1", Provider: providertest.Fail(provider.ErrTimeout), Role: provider.RoleTutor},
		{Name: "p2", Provider: providertest.Reply("hello there"), Role: provider.RoleTutor},
	})
	if err != nil {
		t.Fatal(err)
	}

	ch, err := chain.Stream(context.Background(), provider.RoleTutor, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var deltas []string
	resp, err := provider.Collect(ch, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content = %q, want %q", resp.Content, "hello there")
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v, want 2 parts", deltas)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want total 15", resp.Usage)
	}
}

func TestChain_HealthReport(t *testing.T) {
	t.Parallel()

	bad := providertest.Fail(provider.ErrProviderDown)
	bad.ModelNameFunc = func() string { return "bad-model" }
	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "bad", Provider: bad, Role: provider.RoleTutor},
		{Name: "good", Provider: providertest.Reply("ok"), Role: provider.RoleFallback},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := chain.Complete(context.Background(), provider.RoleTutor, provider.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	report := chain.HealthReport()
	if len(report) != 2 {
		t.Fatalf("report len = %d, want 2", len(report))
	}
	if report[0].State != "cooldown" || report[0].Available {
		t.Errorf("bad entry = %+v, want unavailable cooldown", report[0])
	}
	if report[0].Model != "bad-model" {
		t.Errorf("model = %q, want bad-model", report[0].Model)
	}
	if report[1].State != "healthy" {
		t.Errorf("good entry state = %q, want healthy", report[1].State)
	}
}

func TestCollect_MidStreamError(t *testing.T) {
	t.Parallel()

	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Content: "partial"}
	ch <- provider.StreamChunk{Err: provider.ErrProviderDown}
	close(ch)

	_, err := provider.Collect(ch, nil)
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{provider.ErrRateLimit, true},
		{provider.ErrProviderDown, true},
		{provider.ErrTimeout, true},
		{provider.ErrContextLength, false},
		{provider.ErrEmptyResponse, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := provider.IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
