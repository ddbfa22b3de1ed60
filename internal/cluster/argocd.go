package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ArgoConfig holds the Argo CD connection and chart settings.
type ArgoConfig struct {
	Server       string
	Token        string
	Insecure     bool
	Project      string
	ChartRepoURL string
	ChartPath    string
	PollInterval time.Duration
}

// ArgoDriver implements Driver against the Argo CD REST API. Each preview
// environment is one Argo CD Application pointing at the shared Helm chart
// with PR-specific overrides.
type ArgoDriver struct {
	cfg    ArgoConfig
	client *http.Client
	log    *slog.Logger
}

// NewArgoDriver builds an Argo CD backed driver.
func NewArgoDriver(cfg ArgoConfig, log *slog.Logger) *ArgoDriver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	transport := http.DefaultTransport
	if cfg.Insecure {
		// Argo CD serves a self-signed cert in local dev.
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &ArgoDriver{
		cfg: cfg,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log: log,
	}
}

var _ Driver = (*ArgoDriver)(nil)

type argoApplication struct {
	Metadata argoMetadata `json:"metadata"`
	Spec     argoSpec     `json:"spec"`
	Status   *argoStatus  `json:"status,omitempty"`
}

type argoMetadata struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type argoSpec struct {
	Project     string          `json:"project"`
	Source      argoSource      `json:"source"`
	Destination argoDestination `json:"destination"`
	SyncPolicy  argoSyncPolicy  `json:"syncPolicy"`
}

type argoSource struct {
	RepoURL        string   `json:"repoURL"`
	TargetRevision string   `json:"targetRevision"`
	Path           string   `json:"path"`
	Helm           argoHelm `json:"helm"`
}

type argoHelm struct {
	Parameters []argoHelmParameter `json:"parameters"`
}

type argoHelmParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type argoDestination struct {
	Server    string `json:"server"`
	Namespace string `json:"namespace"`
}

type argoSyncPolicy struct {
	Automated   argoAutomated `json:"automated"`
	SyncOptions []string      `json:"syncOptions"`
}

type argoAutomated struct {
	Prune    bool `json:"prune"`
	SelfHeal bool `json:"selfHeal"`
}

type argoStatus struct {
	Health struct {
		Status string `json:"status"`
	} `json:"health"`
	Sync struct {
		Status string `json:"status"`
	} `json:"sync"`
}

func (d *ArgoDriver) renderApplication(spec DeploySpec) argoApplication {
	return argoApplication{
		Metadata: argoMetadata{
			Name:      spec.AppName,
			Namespace: "argocd",
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "snapenv",
				"snapenv/pr-number":            strconv.Itoa(spec.PRNumber),
			},
		},
		Spec: argoSpec{
			Project: d.cfg.Project,
			Source: argoSource{
				RepoURL:        d.cfg.ChartRepoURL,
				TargetRevision: "HEAD",
				Path:           d.cfg.ChartPath,
				Helm: argoHelm{
					Parameters: []argoHelmParameter{
						{Name: "image.tag", Value: spec.ImageTag},
						{Name: "ingress.host", Value: spec.IngressHost},
					},
				},
			},
			Destination: argoDestination{
				Server:    "https://kubernetes.default.svc",
				Namespace: spec.Namespace,
			},
			SyncPolicy: argoSyncPolicy{
				Automated:   argoAutomated{Prune: true, SelfHeal: true},
				SyncOptions: []string{"CreateNamespace=true"},
			},
		},
	}
}

// Apply upserts the Argo CD application and waits for it to report healthy.
func (d *ArgoDriver) Apply(ctx context.Context, spec DeploySpec) error {
	app := d.renderApplication(spec)
	body, err := json.Marshal(app)
	if err != nil {
		return Permanent("encode application", err)
	}

	// Update first, create on 404. Both paths converge on the same spec so
	// replays are harmless.
	resp, err := d.do(ctx, http.MethodPut, "/api/v1/applications/"+spec.AppName, body)
	if err != nil {
		return Transient("update application", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		drain(resp)
		resp, err = d.do(ctx, http.MethodPost, "/api/v1/applications", body)
		if err != nil {
			return Transient("create application", err)
		}
	}
	if err := checkStatus("upsert application", resp); err != nil {
		return err
	}
	drain(resp)

	d.log.Info("application upserted", "app", spec.AppName, "tag", spec.ImageTag)
	return d.awaitHealth(ctx, spec.AppName, HealthHealthy)
}

// Delete removes the application and every resource it manages, then waits
// for it to disappear. A missing application already satisfies teardown.
func (d *ArgoDriver) Delete(ctx context.Context, appName string) error {
	resp, err := d.do(ctx, http.MethodDelete, "/api/v1/applications/"+appName+"?cascade=true", nil)
	if err != nil {
		return Transient("delete application", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		drain(resp)
		d.log.Info("application already absent", "app", appName)
		return nil
	}
	if err := checkStatus("delete application", resp); err != nil {
		return err
	}
	drain(resp)

	d.log.Info("application deleted", "app", appName)
	return d.awaitHealth(ctx, appName, HealthMissing)
}

// Inspect fetches the application health.
func (d *ArgoDriver) Inspect(ctx context.Context, appName string) (Health, error) {
	resp, err := d.do(ctx, http.MethodGet, "/api/v1/applications/"+appName, nil)
	if err != nil {
		return HealthUnknown, Transient("get application", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return HealthMissing, nil
	}
	if err := checkStatus("get application", resp); err != nil {
		return HealthUnknown, err
	}

	var app argoApplication
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return HealthUnknown, Transient("decode application", err)
	}
	if app.Status == nil || app.Status.Health.Status == "" {
		return HealthUnknown, nil
	}
	return Health(app.Status.Health.Status), nil
}

// awaitHealth polls until the application reaches the wanted health. Degraded
// is a permanent failure while waiting for Healthy; context expiry is
// transient so the next attempt picks up where this one left off.
func (d *ArgoDriver) awaitHealth(ctx context.Context, appName string, want Health) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		health, err := d.Inspect(ctx, appName)
		if err == nil {
			switch {
			case health == want:
				return nil
			case want == HealthHealthy && health == HealthDegraded:
				return Permanent("await health", fmt.Errorf("application %s is degraded", appName))
			}
			d.log.Debug("awaiting application health", "app", appName, "health", health, "want", want)
		} else {
			d.log.Warn("health check failed", "app", appName, "error", err)
		}

		select {
		case <-ctx.Done():
			return Transient("await health", fmt.Errorf("application %s did not reach %s: %w", appName, want, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (d *ArgoDriver) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.Server+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	return d.client.Do(req)
}

// checkStatus classifies non-2xx responses. Server faults and throttling are
// transient; everything else will not fix itself.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer drain(resp)
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(op, err)
	}
	return Permanent(op, err)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	resp.Body.Close()
}
