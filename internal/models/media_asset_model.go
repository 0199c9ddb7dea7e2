package models

import "time"

// MediaAsset is an uploaded file referenced by Post.MediaIDs.
type MediaAsset struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	ObjectKey      string    `db:"object_key" json:"object_key"`
	FileName       string    `db:"file_name" json:"file_name"`
	FileType       string    `db:"file_type" json:"file_type"`
	FileSize       int64     `db:"file_size" json:"file_size"`
	PublicURL      string    `db:"public_url" json:"public_url,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
