package models

// Archive 表示某个版本的内容数据库归档（由签名 URL 下发）
type Archive struct {
	ID                     uint      `json:"id" gorm:"primaryKey"`
	Version                string    `json:"version" gorm:"type:varchar(50);uniqueIndex;not null"`
	FileID                 string    `json:"file_id" gorm:"type:varchar(128);index;not null"`
	SHA256                 string    `json:"sha256" gorm:"type:varchar(64)"`
	SizeBytes              int64     `json:"size_bytes"`
	FileName               string    `json:"file_name" gorm:"type:varchar(255)"`
	InnerPath              string    `json:"inner_path" gorm:"type:varchar(255)"`
	ContentType            string    `json:"content_type" gorm:"type:varchar(100)"`
	Tier                   string    `json:"tier" gorm:"type:varchar(32)"`
	StorageKey             string    `json:"storage_key" gorm:"type:varchar(512)"`
	ReleaseNotes           string    `json:"release_notes" gorm:"type:text"`
	IsCurrent              bool      `json:"is_current" gorm:"default:false"`
	MinimumRequiredVersion string    `json:"minimum_required_version" gorm:"type:varchar(50)"`
	CreatedAt              LocalTime `json:"created_at"`
	UpdatedAt              LocalTime `json:"updated_at"`
}
