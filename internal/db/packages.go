package db

import (
	"context"

	"github.com/shopspring/decimal"
)

// ListActivePackages возвращает активные тарифы, дешёвые первыми.
func (s *Store) ListActivePackages(ctx context.Context) ([]Package, error) {
	var pkgs []Package
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("price ASC").Find(&pkgs).Error
	return pkgs, err
}

func (s *Store) GetPackage(ctx context.Context, id uint) (*Package, error) {
	var pkg Package
	if err := s.db.WithContext(ctx).First(&pkg, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &pkg, nil
}

// DefaultPackages: стартовый каталог тарифов.
func DefaultPackages() []Package {
	return []Package{
		{Name: "Стартер", Description: "Для тестирования", DurationDays: 7, Price: decimal.RequireFromString("2.99"), Servers: 3, Active: true},
		{Name: "Базовый", Description: "Для личного использования", DurationDays: 30, Price: decimal.RequireFromString("8.99"), Servers: 5, Active: true},
		{Name: "Премиум", Description: "Все серверы + поддержка", DurationDays: 30, Price: decimal.RequireFromString("14.99"), Servers: 10, Active: true},
		{Name: "Мега", Description: "Максимум возможностей", DurationDays: 90, Price: decimal.RequireFromString("34.99"), Servers: 15, Active: true},
	}
}

// SeedPackages заполняет каталог, только если он пуст.
func (s *Store) SeedPackages(ctx context.Context, pkgs []Package) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Package{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 || len(pkgs) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Create(&pkgs).Error; err != nil {
		return 0, err
	}
	return len(pkgs), nil
}
