package models

import "time"

// CheckIn records one completion of a project's habit.
// CheckDate is the reference calendar day of the request, CheckTime the UTC instant.
type CheckIn struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;index:idx_checkin_user_project" json:"user_id"`
	ProjectID  uint           `gorm:"not null;index:idx_checkin_user_project;index" json:"project_id"`
	CheckDate  time.Time      `gorm:"type:date;not null" json:"check_date"`
	CheckTime  time.Time      `gorm:"not null;index" json:"check_time"`
	Note       string         `gorm:"size:1000" json:"note"`
	Location   string         `gorm:"size:255" json:"location"`
	ImageCount int            `gorm:"default:0" json:"image_count"`
	CreatedAt  time.Time      `json:"created_at"`
	User       User           `gorm:"foreignKey:UserID" json:"-"`
	Images     []CheckInImage `gorm:"foreignKey:CheckInID" json:"-"`
}

// CheckInImage is an attachment stored in the object store.
type CheckInImage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CheckInID    uint      `gorm:"not null;index" json:"check_in_id"`
	ObjectKey    string    `gorm:"size:512;not null" json:"-"`
	OriginalName string    `gorm:"size:255" json:"original_name"`
	ContentType  string    `gorm:"size:64" json:"content_type"`
	ByteSize     int64     `json:"byte_size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	IsPublic     bool      `gorm:"default:false" json:"is_public"`
	CreatedAt    time.Time `json:"created_at"`
}

// ThumbnailKey returns the object key of the image's thumbnail.
func (i CheckInImage) ThumbnailKey() string {
	return ThumbnailKeyFor(i.ObjectKey)
}

// ThumbnailKeyFor mirrors an original key under the thumbnails/ prefix.
func ThumbnailKeyFor(key string) string {
	return "thumbnails/" + key
}
