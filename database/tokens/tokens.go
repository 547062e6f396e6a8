package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/database/dbcore"
	"github.com/ourlibrary/ourlibrary/database/models"
	"github.com/ourlibrary/ourlibrary/utils"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("token not found")
	ErrRevoked        = errors.New("token revoked")
	ErrExpired        = errors.New("token expired")
	ErrQuotaExhausted = errors.New("download quota exhausted")
)

const (
	// 并发冲突时的重试上限
	maxConsumeAttempts = 8
	tokenLength        = 32
)

type Filter struct {
	Status string
}

// CreateParams 新建令牌的参数，MaxDownloads 与 ExpiresIn 为空表示不限制
type CreateParams struct {
	Tier         string
	MaxDownloads *int
	ExpiresIn    time.Duration
	Remark       string
}

func Create(p CreateParams) (*models.Token, error) {
	tier := strings.TrimSpace(p.Tier)
	if tier == "" {
		return nil, errors.New("tier 不能为空")
	}
	if p.MaxDownloads != nil && *p.MaxDownloads <= 0 {
		return nil, errors.New("max downloads 需大于0")
	}
	if p.ExpiresIn < 0 {
		return nil, errors.New("expires in 不能为负数")
	}
	now := time.Now()
	tok := &models.Token{
		ID:           utils.GenerateRandomString(tokenLength),
		Tier:         tier,
		Status:       models.TokenStatusActive,
		Remark:       p.Remark,
		IssuedAt:     models.FromTime(now),
		MaxDownloads: p.MaxDownloads,
		UpdatedAt:    models.FromTime(now),
	}
	if p.ExpiresIn > 0 {
		tok.ExpiresAt = models.NewLocalTime(now.Add(p.ExpiresIn))
	}
	if err := dbcore.GetDBInstance().Create(tok).Error; err != nil {
		return nil, err
	}
	return tok, nil
}

func Get(id string) (*models.Token, error) {
	var tok models.Token
	err := dbcore.GetDBInstance().Where("id = ?", id).First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Revoke 吊销令牌，重复吊销不报错
func Revoke(id string) (*models.Token, error) {
	tok, err := Get(id)
	if err != nil {
		return nil, err
	}
	if tok.Status == models.TokenStatusRevoked {
		return tok, nil
	}
	now := models.FromTime(time.Now())
	if err := dbcore.GetDBInstance().Model(&models.Token{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.TokenStatusRevoked,
		"revoked_at": now,
		"updated_at": now,
	}).Error; err != nil {
		return nil, err
	}
	tok.Status = models.TokenStatusRevoked
	tok.RevokedAt = &now
	tok.UpdatedAt = now
	return tok, nil
}

func List(filter Filter) ([]models.Token, error) {
	var list []models.Token
	query := dbcore.GetDBInstance().Model(&models.Token{})
	if filter.Status != "" {
		query = query.Where("status = ?", strings.ToLower(filter.Status))
	}
	if err := query.Order("issued_at desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// CheckStatus 校验吊销与到期，不检查次数
func CheckStatus(tok *models.Token, now time.Time) error {
	if tok == nil {
		return ErrNotFound
	}
	if tok.Status != models.TokenStatusActive {
		return ErrRevoked
	}
	if tok.ExpiresAt != nil && !now.Before(tok.ExpiresAt.ToTime()) {
		return ErrExpired
	}
	return nil
}

// CheckUsable 完整校验：状态、到期与剩余次数
func CheckUsable(tok *models.Token, now time.Time) error {
	if err := CheckStatus(tok, now); err != nil {
		return err
	}
	if tok.MaxDownloads != nil && tok.UsageCount >= *tok.MaxDownloads {
		return ErrQuotaExhausted
	}
	return nil
}

func IsUsable(tok *models.Token, now time.Time) bool {
	return CheckUsable(tok, now) == nil
}

// RemainingQuota 无上限时返回 nil
func RemainingQuota(tok *models.Token) *int {
	if tok == nil || tok.MaxDownloads == nil {
		return nil
	}
	remain := *tok.MaxDownloads - tok.UsageCount
	if remain < 0 {
		remain = 0
	}
	return &remain
}

// HasRedemption 判断该请求是否已计过数
func HasRedemption(tokenID, requestID string) (bool, error) {
	if requestID == "" {
		return false, nil
	}
	var count int64
	err := dbcore.GetDBInstance().Model(&models.Redemption{}).
		Where("token_id = ? AND request_id = ?", tokenID, requestID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConsumeParams 扣减一次下载次数所需的信息
type ConsumeParams struct {
	TokenID   string
	RequestID string
	FileID    string
	Version   string
	Now       time.Time
}

// Consume 在事务内以比较并交换的方式扣减一次次数并写入去重记录。
// 若同一 RequestID 已记录过，则不再扣减，replayed 返回 true
func Consume(p ConsumeParams) (tok *models.Token, replayed bool, err error) {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	db := dbcore.GetDBInstance()
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var conflict bool
		err = db.Transaction(func(tx *gorm.DB) error {
			conflict = false
			var current models.Token
			if err := tx.Where("id = ?", p.TokenID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if p.RequestID != "" {
				var count int64
				if err := tx.Model(&models.Redemption{}).
					Where("token_id = ? AND request_id = ?", p.TokenID, p.RequestID).
					Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					replayed = true
					tok = &current
					return nil
				}
			}
			if err := CheckUsable(&current, p.Now); err != nil {
				return err
			}

			now := models.FromTime(p.Now)
			// 仅当计数未被其他请求修改且仍有额度时才更新
			res := tx.Model(&models.Token{}).
				Where("id = ? AND usage_count = ? AND status = ?", p.TokenID, current.UsageCount, models.TokenStatusActive).
				Where("max_downloads IS NULL OR usage_count < max_downloads").
				Updates(map[string]interface{}{
					"usage_count":  gorm.Expr("usage_count + ?", 1),
					"last_used_at": now,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				conflict = true
				return nil
			}
			if p.RequestID != "" {
				if err := tx.Create(&models.Redemption{
					TokenID:   p.TokenID,
					RequestID: p.RequestID,
					FileID:    p.FileID,
					Version:   p.Version,
					CreatedAt: now,
				}).Error; err != nil {
					return fmt.Errorf("record redemption: %w", err)
				}
			}
			current.UsageCount++
			current.LastUsedAt = &now
			current.UpdatedAt = now
			tok = &current
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		if !conflict {
			return tok, replayed, nil
		}
	}
	return nil, false, fmt.Errorf("consume token %s: too many concurrent updates", p.TokenID)
}

// PruneRedemptions 删除早于 before 的去重记录
func PruneRedemptions(before time.Time) (int64, error) {
	res := dbcore.GetDBInstance().Where("created_at < ?", models.FromTime(before)).Delete(&models.Redemption{})
	return res.RowsAffected, res.Error
}
