package domain

import "time"

// Vehicle - транспортное средство из каталога разборки.
// LocalID знаковый: положительный - физический автомобиль на площадке,
// отрицательный - синтетическая запись полностью разобранного/неопознанного
// автомобиля. Знак присваивается источником и никогда не меняется.
type Vehicle struct {
	LocalID int64  `json:"local_id"`
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Version string `json:"version"`
	Year    int    `json:"year"`
	Fuel    string `json:"fuel"`
	VIN     string `json:"vin"`
	Plate   string `json:"plate"`
	Color   string `json:"color"`
	Mileage int    `json:"mileage"`
	Power   int    `json:"power"`
	Doors   int    `json:"doors"`

	// Images всегда не-nil: пустой срез, если изображений нет
	Images []string `json:"images"`

	Active           bool `json:"active"`
	ActivePartsCount int  `json:"active_parts_count"`

	// Situation - состояние по данным источника (vendida, baja, eliminada, ...).
	// Не персистится, используется правилами активации в рамках одного запуска.
	Situation string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsProcessed сообщает, является ли запись синтетической (разобранный автомобиль)
func (v *Vehicle) IsProcessed() bool {
	return v.LocalID < 0
}
