package identify

import "fmt"

// Organ is the botanical part of the plant visible in an image.
type Organ string

const (
	OrganLeaf   Organ = "leaf"
	OrganFlower Organ = "flower"
	OrganFruit  Organ = "fruit"
	OrganBark   Organ = "bark"
	OrganAuto   Organ = "auto"

	// OrganUnspecified is accepted on input but never forwarded to the
	// identification service, which has no such concept. ResolveOrgans
	// translates it to OrganAuto.
	OrganUnspecified Organ = "unspecified"
)

var organValues = map[Organ]bool{
	OrganLeaf:        true,
	OrganFlower:      true,
	OrganFruit:       true,
	OrganBark:        true,
	OrganAuto:        true,
	OrganUnspecified: true,
}

func ParseOrgan(raw string) (Organ, error) {
	organ := Organ(raw)
	if !organValues[organ] {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrganValue, raw)
	}
	return organ, nil
}

// ResolveOrgans produces the exact per-image organ value sent to the
// identification service. A single tag broadcasts to every image; a
// full-length list maps positionally. The unspecified sentinel becomes
// automatic detection.
func ResolveOrgans(organs []Organ, imageCount int) []Organ {
	resolved := make([]Organ, imageCount)
	for i := range resolved {
		organ := organs[0]
		if len(organs) > 1 {
			organ = organs[i]
		}
		if organ == OrganUnspecified {
			organ = OrganAuto
		}
		resolved[i] = organ
	}
	return resolved
}
