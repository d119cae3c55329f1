package identify

import "fmt"

const MaxImagesPerRequest = 5

// ImageInput is one image as received from the caller, before validation.
type ImageInput struct {
	Data     []byte
	Filename string
}

// ValidateImageSet checks the image count and organ tags before any network
// or storage call is made. It returns the parsed organ list (length 1 or
// equal to the image count); resolution to per-image values is ResolveOrgans'
// job.
func ValidateImageSet(images []ImageInput, organs []string) ([]Organ, error) {
	if len(images) == 0 || len(images) > MaxImagesPerRequest {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidImageCount, len(images))
	}

	if len(organs) != 1 && len(organs) != len(images) {
		return nil, fmt.Errorf("%w: %d tags for %d images", ErrOrganCountMismatch, len(organs), len(images))
	}

	parsed := make([]Organ, len(organs))
	for i, raw := range organs {
		organ, err := ParseOrgan(raw)
		if err != nil {
			return nil, err
		}
		parsed[i] = organ
	}

	return parsed, nil
}
