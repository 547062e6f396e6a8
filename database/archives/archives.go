package archives

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/database/dbcore"
	"github.com/ourlibrary/ourlibrary/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("archive not found")

// ValidateVersionName 做基础校验，避免版本号被拼进存储路径时发生穿越
func ValidateVersionName(version string) error {
	if version == "" {
		return fmt.Errorf("版本号不能为空")
	}
	if strings.Contains(version, "..") || strings.ContainsAny(version, "/\\") {
		return fmt.Errorf("版本号包含非法字符")
	}
	return nil
}

func normalize(a *models.Archive) error {
	a.Version = strings.TrimSpace(a.Version)
	a.FileID = strings.TrimSpace(a.FileID)
	a.SHA256 = strings.ToLower(strings.TrimSpace(a.SHA256))
	if err := ValidateVersionName(a.Version); err != nil {
		return err
	}
	if a.FileID == "" {
		return errors.New("file id 不能为空")
	}
	if a.SizeBytes < 0 {
		return errors.New("size 不能为负数")
	}
	if a.StorageKey == "" {
		a.StorageKey = a.FileID
	}
	return nil
}

// Upsert 按版本号写入或更新归档元数据，isCurrent 不在此处修改
func Upsert(a *models.Archive) (*models.Archive, error) {
	if err := normalize(a); err != nil {
		return nil, err
	}
	now := models.FromTime(time.Now())
	a.CreatedAt = now
	a.UpdatedAt = now
	err := dbcore.GetDBInstance().Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_id", "sha256", "size_bytes", "file_name", "inner_path", "content_type",
			"tier", "storage_key", "release_notes", "minimum_required_version", "updated_at",
		}),
	}).Create(a).Error
	if err != nil {
		return nil, err
	}
	return GetByVersion(a.Version)
}

func GetByVersion(version string) (*models.Archive, error) {
	var a models.Archive
	err := dbcore.GetDBInstance().Where("version = ?", strings.TrimSpace(version)).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByFileID 返回该文件最近登记的版本
func GetByFileID(fileID string) (*models.Archive, error) {
	var a models.Archive
	err := dbcore.GetDBInstance().Where("file_id = ?", fileID).Order("updated_at desc").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Current 获取标记为当前发布的归档
func Current() (*models.Archive, error) {
	var a models.Archive
	err := dbcore.GetDBInstance().Where("is_current = ?", true).Order("updated_at desc").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Publish 将指定版本设为当前版本，其余版本取消标记
func Publish(version string) (*models.Archive, error) {
	version = strings.TrimSpace(version)
	err := dbcore.GetDBInstance().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Archive{}).Where("version = ?", version).Updates(map[string]interface{}{
			"is_current": true,
			"updated_at": models.FromTime(time.Now()),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.Archive{}).Where("version <> ?", version).Update("is_current", false).Error
	})
	if err != nil {
		return nil, err
	}
	return GetByVersion(version)
}

func List() ([]models.Archive, error) {
	var list []models.Archive
	if err := dbcore.GetDBInstance().Order("created_at desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func Delete(version string) error {
	res := dbcore.GetDBInstance().Where("version = ?", strings.TrimSpace(version)).Delete(&models.Archive{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
