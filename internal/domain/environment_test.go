package domain

import (
	"strings"
	"testing"
)

func TestEnvironmentID(t *testing.T) {
	cases := []struct {
		repository string
		prNumber   int
		want       string
	}{
		{"acme/webapp", 42, "acme-webapp-pr-42"},
		{"Acme/WebApp", 42, "acme-webapp-pr-42"},
		{"acme/web_app.v2", 7, "acme-web-app-v2-pr-7"},
		{"/leading", 1, "leading-pr-1"},
	}
	for _, tc := range cases {
		if got := EnvironmentID(tc.repository, tc.prNumber); got != tc.want {
			t.Errorf("EnvironmentID(%q, %d) = %q, want %q", tc.repository, tc.prNumber, got, tc.want)
		}
	}
}

func TestEnvironmentIDLengthCap(t *testing.T) {
	id := EnvironmentID("org/"+strings.Repeat("verylongname", 10), 123456)
	if len(id) > 63 {
		t.Fatalf("identifier too long for a namespace: %d", len(id))
	}
	if !strings.HasSuffix(id, "-pr-123456") {
		t.Fatalf("identifier lost PR suffix: %q", id)
	}
}

func TestEnvironmentIDDeterministic(t *testing.T) {
	a := EnvironmentID("acme/webapp", 42)
	b := EnvironmentID("acme/webapp", 42)
	if a != b {
		t.Fatalf("identifier not deterministic: %q vs %q", a, b)
	}
}

func TestConverged(t *testing.T) {
	env := Environment{
		TargetState:        TargetActive,
		State:              StateActive,
		DesiredGeneration:  3,
		ObservedGeneration: 3,
	}
	if !env.Converged() {
		t.Fatal("active at desired generation should be converged")
	}

	env.ObservedGeneration = 2
	if env.Converged() {
		t.Fatal("observed behind desired should not be converged")
	}

	env = Environment{TargetState: TargetTerminated, State: StateTerminated}
	if !env.Converged() {
		t.Fatal("terminated at terminated target should be converged")
	}

	env.State = StateTerminating
	if env.Converged() {
		t.Fatal("terminating should not be converged")
	}
}
