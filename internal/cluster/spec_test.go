package cluster

import (
	"strings"
	"testing"

	"github.com/snapenv/snapenv/internal/domain"
)

func TestRenderSpec(t *testing.T) {
	env := &domain.Environment{
		ID:                domain.EnvironmentID("acme/webapp", 42),
		Repository:        "acme/webapp",
		PRNumber:          42,
		HeadSHA:           "8f14e45fceea167a5a36dedd4bea2543c6a0f2b1",
		DesiredGeneration: 3,
	}

	spec := RenderSpec(env, "preview.example.com")
	if spec.AppName != "acme-webapp-pr-42" {
		t.Fatalf("unexpected app name %q", spec.AppName)
	}
	if spec.Namespace != spec.AppName {
		t.Fatalf("namespace %q should match app name", spec.Namespace)
	}
	if spec.ImageTag != "8f14e45" {
		t.Fatalf("unexpected image tag %q", spec.ImageTag)
	}
	if spec.IngressHost != "acme-webapp-pr-42.preview.example.com" {
		t.Fatalf("unexpected ingress host %q", spec.IngressHost)
	}
	if spec.Generation != 3 {
		t.Fatalf("unexpected generation %d", spec.Generation)
	}
}

func TestRenderSpecTrailingDotDomain(t *testing.T) {
	env := &domain.Environment{ID: "x-pr-1", Repository: "x", PRNumber: 1, HeadSHA: "abc"}
	spec := RenderSpec(env, "preview.local.")
	if spec.IngressHost != "x-pr-1.preview.local" {
		t.Fatalf("unexpected ingress host %q", spec.IngressHost)
	}
	if spec.ImageTag != "abc" {
		t.Fatalf("short SHA should pass through, got %q", spec.ImageTag)
	}
}

func TestEnvironmentIDBounds(t *testing.T) {
	long := "Organization/" + strings.Repeat("a", 80)
	id := domain.EnvironmentID(long, 9999)
	if len(id) > 63 {
		t.Fatalf("identifier exceeds namespace limit: %d chars", len(id))
	}
	if !strings.HasSuffix(id, "-pr-9999") {
		t.Fatalf("identifier lost its PR suffix: %q", id)
	}
}
