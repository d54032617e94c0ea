package storage

import (
	"errors"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/model"
)

// ErrBlockCourseMismatch indicates a block id already registered under another course.
var ErrBlockCourseMismatch = errors.New("storage: block belongs to another course")

// LoadOrCreateBlock returns the stored block or an unsaved default one.
func LoadOrCreateBlock(database *gorm.DB, blockID string, courseID string) (model.Block, error) {
	block, blockErr := model.NewBlock(blockID, courseID)
	if blockErr != nil {
		return model.Block{}, blockErr
	}

	var stored model.Block
	findErr := database.First(&stored, "id = ?", block.ID).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return block, nil
	}
	if findErr != nil {
		return model.Block{}, findErr
	}
	if stored.CourseID != block.CourseID {
		return model.Block{}, ErrBlockCourseMismatch
	}
	return stored, nil
}

// SaveBlock upserts the block settings.
func SaveBlock(database *gorm.DB, block *model.Block) error {
	return database.Save(block).Error
}
