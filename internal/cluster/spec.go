package cluster

import (
	"strings"

	"github.com/snapenv/snapenv/internal/domain"
)

// DeploySpec is the rendered desired shape of one preview environment. It is
// a pure function of the registry record, so replaying it is always safe.
type DeploySpec struct {
	AppName     string
	Namespace   string
	Repository  string
	PRNumber    int
	Generation  int64
	HeadSHA     string
	ImageTag    string
	IngressHost string
}

// RenderSpec derives the deploy spec for an environment. The environment ID
// doubles as application name and namespace; the image tag is the abbreviated
// head commit.
func RenderSpec(env *domain.Environment, previewDomain string) DeploySpec {
	return DeploySpec{
		AppName:     env.ID,
		Namespace:   env.ID,
		Repository:  env.Repository,
		PRNumber:    env.PRNumber,
		Generation:  env.DesiredGeneration,
		HeadSHA:     env.HeadSHA,
		ImageTag:    ShortSHA(env.HeadSHA),
		IngressHost: env.ID + "." + strings.TrimSuffix(previewDomain, "."),
	}
}

// ShortSHA abbreviates a commit SHA to the 7 character tag used for images.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
