package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"gorm.io/gorm"
)

// CategoryServicer — интерфейс хранилища категорий.
type CategoryServicer interface {
	GetByID(ctx context.Context, id uint64) (*model.TicketCategory, error)
	List(ctx context.Context) ([]model.TicketCategory, error)
	Create(ctx context.Context, c *model.TicketCategory) error
	Update(ctx context.Context, id uint64, changes map[string]interface{}) (*model.TicketCategory, error)
	Delete(ctx context.Context, id uint64) error
	AddField(ctx context.Context, f *model.TicketCategoryField) error
	DeleteField(ctx context.Context, fieldID uint64) error
}

type CategoryService struct {
	db *gorm.DB
}

func NewCategoryService(db *gorm.DB) *CategoryService {
	return &CategoryService{db: db}
}

// GetByID возвращает категорию с полями формы в порядке создания (id ASC).
func (s *CategoryService) GetByID(ctx context.Context, id uint64) (*model.TicketCategory, error) {
	var c model.TicketCategory
	err := s.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCategoryNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CategoryService) List(ctx context.Context) ([]model.TicketCategory, error) {
	var items []model.TicketCategory
	err := s.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *CategoryService) Create(ctx context.Context, c *model.TicketCategory) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return persistErr("create category", err)
	}
	return nil
}

func (s *CategoryService) Update(ctx context.Context, id uint64, changes map[string]interface{}) (*model.TicketCategory, error) {
	var c model.TicketCategory
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCategoryNotFound
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&c).Updates(changes).Error; err != nil {
		return nil, persistErr("update category", err)
	}
	return s.GetByID(ctx, id)
}

// Delete удаляет категорию и её поля. Пока на категорию ссылается хотя бы
// один тикет (открытый или закрытый) — errs.ErrCategoryInUse.
func (s *CategoryService) Delete(ctx context.Context, id uint64) error {
	var refs int64
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("category_id = ?", id).
		Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d tickets", errs.ErrCategoryInUse, refs)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category_id = ?", id).Delete(&model.TicketCategoryField{}).Error; err != nil {
			return persistErr("delete category fields", err)
		}
		res := tx.Delete(&model.TicketCategory{}, id)
		if res.Error != nil {
			return persistErr("delete category", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrCategoryNotFound
		}
		return nil
	})
}

func (s *CategoryService) AddField(ctx context.Context, f *model.TicketCategoryField) error {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&model.TicketCategory{}).
		Where("id = ?", f.CategoryID).
		Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return errs.ErrCategoryNotFound
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return persistErr("add category field", err)
	}
	return nil
}

func (s *CategoryService) DeleteField(ctx context.Context, fieldID uint64) error {
	res := s.db.WithContext(ctx).Delete(&model.TicketCategoryField{}, fieldID)
	if res.Error != nil {
		return persistErr("delete category field", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrCategoryNotFound
	}
	return nil
}
