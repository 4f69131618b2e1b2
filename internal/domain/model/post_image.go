package model

import (
	"fmt"

	"github.com/gitsmash/mapid/internal/domain/enums"
)

type PostImage struct {
	Audit
	SoftDelete

	PostID int64 `json:"post_id"`
	UserID int64 `json:"user_id"`

	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`

	// ObjectKeys and URLs always share an identical variant key set; other
	// subsystems rely on that when rendering or cleaning up.
	ObjectKeys map[enums.Variant]string `json:"object_keys"`
	URLs       map[enums.Variant]string `json:"urls"`

	ModerationStatus enums.ModerationStatus `json:"moderation_status"`
	DisplayOrder     int                    `json:"display_order"`
	IsPrimary        bool                   `json:"is_primary"`
}

func (i PostImage) IsApproved() bool {
	return i.ModerationStatus == enums.ModerationStatusApproved
}

// ValidateVariantMaps enforces the key-set invariant between keys and URLs.
func (i PostImage) ValidateVariantMaps() error {
	if len(i.ObjectKeys) != len(i.URLs) {
		return fmt.Errorf("variant maps differ in size: %d keys vs %d urls", len(i.ObjectKeys), len(i.URLs))
	}
	for variant := range i.ObjectKeys {
		if _, ok := i.URLs[variant]; !ok {
			return fmt.Errorf("variant %q present in keys but missing from urls", variant)
		}
	}
	return nil
}
