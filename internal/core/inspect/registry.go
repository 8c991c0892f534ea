package inspect

import (
	"regexp"

	"github.com/distribution/reference"
)

// ecrHost matches private ECR registry hosts and captures the account and
// region.
var ecrHost = regexp.MustCompile(`^(\d{12})\.dkr\.ecr(?:-fips)?\.([a-z0-9-]+)\.amazonaws\.com(?:\.cn)?$`)

// RegistryImage is a container image hosted in a private ECR registry.
// Exactly one of Tag and Digest is set.
type RegistryImage struct {
	Image      string
	RegistryID string
	Region     string
	Repository string
	Tag        string
	Digest     string
}

// ParseRegistryImage splits an image reference hosted in ECR into the
// parts a registry lookup needs. Images from any other registry, and
// references that do not parse, return false.
func ParseRegistryImage(image string) (RegistryImage, bool) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return RegistryImage{}, false
	}
	m := ecrHost.FindStringSubmatch(reference.Domain(named))
	if m == nil {
		return RegistryImage{}, false
	}

	img := RegistryImage{
		Image:      image,
		RegistryID: m[1],
		Region:     m[2],
		Repository: reference.Path(named),
	}
	switch ref := named.(type) {
	case reference.Digested:
		img.Digest = ref.Digest().String()
	case reference.Tagged:
		img.Tag = ref.Tag()
	default:
		img.Tag = reference.TagNameOnly(named).(reference.Tagged).Tag()
	}
	return img, true
}
