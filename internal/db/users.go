package db

import (
	"context"

	"gorm.io/gorm/clause"
)

// GetOrCreateUser создаёт пользователя при первом входе, при повторном обновляет имя и ник.
// Telegram ID неизменен.
func (s *Store) GetOrCreateUser(ctx context.Context, telegramID int64, firstName, username string) (*User, error) {
	user := User{TelegramID: telegramID, FirstName: firstName, Username: username}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "username"}),
	}).Create(&user).Error
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
