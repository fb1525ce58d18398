package domain

import (
	"strconv"
	"strings"
	"time"
)

// Part - запчасть из каталога. RefLocal - натуральный ключ upsert-а.
// VehicleID ссылается на Vehicle.LocalID и наследует его знаковую семантику.
type Part struct {
	RefLocal  int64 `json:"ref_local"`
	VehicleID int64 `json:"vehicle_id"`

	FamilyCode  string `json:"family_code"`
	FamilyDesc  string `json:"family_desc"`
	ArticleCode string `json:"article_code"`
	ArticleDesc string `json:"article_desc"`
	MainRef     string `json:"main_ref"`

	// Price хранится как нормализованная десятичная строка ("15.50").
	// Значение "-1" - сентинел источника: цена намеренно скрыта для
	// запчастей разобранных автомобилей.
	Price    string `json:"price"`
	Weight   string `json:"weight"`
	Location string `json:"location"`
	Notes    string `json:"notes"`

	Images []string `json:"images"`

	// Денормализованный снимок данных автомобиля, заполняется коррелятором
	VehicleBrand   string `json:"vehicle_brand"`
	VehicleModel   string `json:"vehicle_model"`
	VehicleVersion string `json:"vehicle_version"`
	VehicleYear    int    `json:"vehicle_year"`
	VehicleFuel    string `json:"vehicle_fuel"`

	// BrandFromPattern помечает снимок, полученный эвристикой по тексту
	// описания, а не из авторитетных данных API
	BrandFromPattern bool `json:"brand_from_pattern"`

	Active            bool `json:"active"`
	AvailableInSource bool `json:"available_in_source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFromProcessedVehicle сообщает, относится ли запчасть к разобранному автомобилю
func (p *Part) IsFromProcessedVehicle() bool {
	return p.VehicleID < 0
}

// PriceValue возвращает цену как число. Неразбираемая строка трактуется как 0.
func (p *Part) PriceValue() float64 {
	s := strings.ReplaceAll(strings.TrimSpace(p.Price), ",", ".")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
