package models

const (
	TokenStatusActive  = "active"
	TokenStatusRevoked = "revoked"
)

// Token 分发令牌台账，ID 即客户端持有的令牌字符串
type Token struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Tier         string     `json:"tier" gorm:"type:varchar(32);not null"`
	Status       string     `json:"status" gorm:"type:varchar(16);not null;index"` // active, revoked
	Remark       string     `json:"remark" gorm:"type:text"`
	IssuedAt     LocalTime  `json:"issued_at"`
	ExpiresAt    *LocalTime `json:"expires_at"`
	MaxDownloads *int       `json:"max_downloads"`
	UsageCount   int        `json:"usage_count" gorm:"not null;default:0"`
	LastUsedAt   *LocalTime `json:"last_used_at"`
	RevokedAt    *LocalTime `json:"revoked_at"`
	UpdatedAt    LocalTime  `json:"updated_at"`
}

// Redemption 记录一次成功签发，(token_id, request_id) 唯一，用于重试去重
type Redemption struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TokenID   string    `json:"token_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_redemption_token_request"`
	RequestID string    `json:"request_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_redemption_token_request"`
	FileID    string    `json:"file_id" gorm:"type:varchar(128)"`
	Version   string    `json:"version" gorm:"type:varchar(50)"`
	CreatedAt LocalTime `json:"created_at" gorm:"index"`
}
