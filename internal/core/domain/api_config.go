package domain

import (
	"errors"
	"time"
)

// ErrNoActiveApiConfig - нет активной конфигурации API, запуск невозможен
var ErrNoActiveApiConfig = errors.New("no active api configuration")

// ApiConfig - учетные данные внешнего API. Загружаются из хранилища один раз
// на запуск и передаются явным значением, без разделяемого мутабельного
// состояния между параллельными запусками.
type ApiConfig struct {
	ID        int64     `json:"id"`
	ApiKey    string    `json:"api_key"`
	CompanyID int       `json:"company_id"`
	Channel   string    `json:"channel"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate проверяет, что конфигурация пригодна для запуска импорта
func (c *ApiConfig) Validate() error {
	if c == nil || !c.Active {
		return ErrNoActiveApiConfig
	}
	if c.ApiKey == "" {
		return errors.New("api configuration has empty api key")
	}
	if c.CompanyID <= 0 {
		return errors.New("api configuration has invalid company id")
	}
	return nil
}
