package domain

import (
	"regexp"
	"strings"
)

// CorrelationSources - данные, доступные коррелятору для одной партии запчастей
type CorrelationSources struct {
	// Batch - автомобили, пришедшие в том же ответе API (авторитетный источник,
	// проверяется первым для обоих классов)
	Batch map[int64]*Vehicle
	// Store - ранее импортированные автомобили (только физические, LocalID > 0)
	Store map[int64]*Vehicle
}

// CorrelationOutcome - результат корреляции одной запчасти
type CorrelationOutcome struct {
	Matched bool
	// FromPattern помечает, что марка извлечена эвристикой из текста описания
	FromPattern bool
	// Situation - состояние автомобиля из партии, если корреляция прошла по ней
	Situation string
}

// Correlate заполняет денормализованный снимок автомобиля в запчасти.
// Приоритет: партия из ответа API, затем хранилище (только для физических
// автомобилей), затем текстовая эвристика (только для разобранных).
// Кросс-корреляция между знаковыми классами невозможна: ключ поиска - сам
// VehicleID, а хранилище содержит только положительные LocalID.
// Отсутствие совпадения - валидное терминальное состояние, не ошибка.
func Correlate(part *Part, src CorrelationSources) CorrelationOutcome {
	if v, ok := src.Batch[part.VehicleID]; ok && v != nil {
		applyVehicleSnapshot(part, v)
		return CorrelationOutcome{Matched: true, Situation: v.Situation}
	}

	if part.VehicleID > 0 {
		if v, ok := src.Store[part.VehicleID]; ok && v != nil && v.LocalID > 0 {
			applyVehicleSnapshot(part, v)
			return CorrelationOutcome{Matched: true}
		}
		return CorrelationOutcome{}
	}

	if brand, model, ok := ExtractBrandModel(part.FamilyDesc, part.ArticleDesc, part.Notes); ok {
		part.VehicleBrand = brand
		part.VehicleModel = model
		part.BrandFromPattern = true
		return CorrelationOutcome{FromPattern: true}
	}

	return CorrelationOutcome{}
}

func applyVehicleSnapshot(part *Part, v *Vehicle) {
	part.VehicleBrand = v.Brand
	part.VehicleModel = v.Model
	part.VehicleVersion = v.Version
	part.VehicleYear = v.Year
	part.VehicleFuel = v.Fuel
	part.BrandFromPattern = false
}

type brandEntry struct {
	canonical string
	variants  []string
}

// Словарь известных марок для текстовой эвристики. Составные и длинные
// варианты стоят раньше, чтобы "ALFA ROMEO" не схлопнулся в "ALFA".
var knownBrands = []brandEntry{
	{"ALFA ROMEO", []string{"ALFA ROMEO"}},
	{"LAND ROVER", []string{"LAND ROVER", "RANGE ROVER"}},
	{"MERCEDES-BENZ", []string{"MERCEDES BENZ", "MERCEDES"}},
	{"VOLKSWAGEN", []string{"VOLKSWAGEN", "VW"}},
	{"CITROEN", []string{"CITROEN"}},
	{"SKODA", []string{"SKODA"}},
	{"SSANGYONG", []string{"SSANGYONG"}},
	{"CHEVROLET", []string{"CHEVROLET"}},
	{"MITSUBISHI", []string{"MITSUBISHI"}},
	{"AUDI", []string{"AUDI"}},
	{"BMW", []string{"BMW"}},
	{"DACIA", []string{"DACIA"}},
	{"FIAT", []string{"FIAT"}},
	{"FORD", []string{"FORD"}},
	{"HONDA", []string{"HONDA"}},
	{"HYUNDAI", []string{"HYUNDAI"}},
	{"IVECO", []string{"IVECO"}},
	{"JEEP", []string{"JEEP"}},
	{"KIA", []string{"KIA"}},
	{"LEXUS", []string{"LEXUS"}},
	{"MAZDA", []string{"MAZDA"}},
	{"MINI", []string{"MINI"}},
	{"NISSAN", []string{"NISSAN"}},
	{"OPEL", []string{"OPEL"}},
	{"PEUGEOT", []string{"PEUGEOT"}},
	{"PORSCHE", []string{"PORSCHE"}},
	{"RENAULT", []string{"RENAULT"}},
	{"SEAT", []string{"SEAT"}},
	{"SMART", []string{"SMART"}},
	{"SUBARU", []string{"SUBARU"}},
	{"SUZUKI", []string{"SUZUKI"}},
	{"TOYOTA", []string{"TOYOTA"}},
	{"VOLVO", []string{"VOLVO"}},
}

// Родовые названия семейств, которые нельзя принимать за марку или модель
var genericFamilyTerms = map[string]bool{
	"GENERICO":      true,
	"GENERICA":      true,
	"ELECTRICIDAD":  true,
	"CARROCERIA":    true,
	"MOTOR":         true,
	"SUSPENSION":    true,
	"FRENOS":        true,
	"DIRECCION":     true,
	"TRANSMISION":   true,
	"INTERIOR":      true,
	"CLIMATIZACION": true,
	"ALUMBRADO":     true,
	"CAMBIO":        true,
	"ACCESORIOS":    true,
}

var nonWordRe = regexp.MustCompile(`[^A-Z0-9]+`)

// ExtractBrandModel пытается извлечь марку (и следующий за ней токен как
// модель) из свободного текста. Тексты проверяются в порядке передачи;
// первый с известной маркой выигрывает. Результат лотерейный по качеству,
// поэтому вызывающий обязан пометить запись флагом BrandFromPattern.
func ExtractBrandModel(texts ...string) (brand, model string, ok bool) {
	for _, text := range texts {
		folded := nonWordRe.ReplaceAllString(foldText(text), " ")
		folded = strings.TrimSpace(folded)
		if folded == "" || genericFamilyTerms[folded] {
			continue
		}
		padded := " " + folded + " "
		for _, entry := range knownBrands {
			for _, variant := range entry.variants {
				idx := strings.Index(padded, " "+variant+" ")
				if idx < 0 {
					continue
				}
				rest := strings.Fields(padded[idx+len(variant)+1:])
				if len(rest) > 0 && !genericFamilyTerms[rest[0]] {
					model = rest[0]
				}
				return entry.canonical, model, true
			}
		}
	}
	return "", "", false
}
