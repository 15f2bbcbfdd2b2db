// Package mapping resolves MemberMouse resources to the Kit tag configured for
// them.
package mapping

import (
	"strconv"
	"strings"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

const (
	keyPrefix    = "mapping-"
	cancelSuffix = "-cancel"
)

// Key builds the settings key for a mapping. Membership levels carry no type
// segment. Products never get the cancel suffix.
func Key(resource models.ResourceType, id int64, isCancellation bool) models.MappingKey {
	var b strings.Builder
	b.WriteString(keyPrefix)
	switch resource {
	case models.ResourceProduct:
		b.WriteString("product-")
	case models.ResourceBundle:
		b.WriteString("bundle-")
	}
	b.WriteString(strconv.FormatInt(id, 10))
	if isCancellation && resource.SupportsCancellation() {
		b.WriteString(cancelSuffix)
	}
	return models.MappingKey(b.String())
}

// Source is the read side of the settings record.
type Source interface {
	MappingRaw(key models.MappingKey) string
}

// Resolver looks up tag mappings against a settings Source.
type Resolver struct {
	source Source
}

// NewResolver returns a Resolver reading from source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the tag configured for the resource, and false when there
// is none. A blank stored value counts as no mapping.
func (r *Resolver) Resolve(resource models.ResourceType, id int64, isCancellation bool) (models.TagID, bool) {
	if r == nil || r.source == nil || !resource.Valid() || id <= 0 {
		return "", false
	}
	raw := strings.TrimSpace(r.source.MappingRaw(Key(resource, id, isCancellation)))
	if raw == "" {
		return "", false
	}
	return models.TagID(raw), true
}
