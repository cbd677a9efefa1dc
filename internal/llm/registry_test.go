package llm

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	initialized bool
}

func (s *stubProvider) Initialize(config map[string]string) error {
	if config["fail"] != "" {
		return errors.New("boom")
	}
	s.initialized = true
	return nil
}
func (s *stubProvider) GetName() string              { return "stub" }
func (s *stubProvider) GetSupportedModels() []string { return []string{"stub-1"} }
func (s *stubProvider) CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Text: req.Prompt}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("stub", func() Provider { return &stubProvider{} })

	if _, err := r.GetProvider("missing", nil); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("GetProvider(missing) error = %v", err)
	}
	if _, err := r.GetProvider("stub", map[string]string{"fail": "1"}); err == nil {
		t.Fatal("expected init error")
	}
	p, err := r.GetProvider("stub", map[string]string{})
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if !p.(*stubProvider).initialized {
		t.Fatal("provider not initialized")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "stub" {
		t.Fatalf("Names() = %v", names)
	}
	if models := r.SupportedModels("stub"); len(models) != 1 {
		t.Fatalf("SupportedModels() = %v", models)
	}
}
