package metasync

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"metasync-import-service/internal/core/domain"
)

// Маппер приводит разнородные записи источника к каноническому виду.
// Все функции тотальны: на любом входе возвращают значение, никогда не
// паникуют и не возвращают ошибок. Неожиданная форма поля деградирует до
// пустого значения, решение об исключении записи принимают правила активации.

// Приоритетные цепочки алиасов полей: разные версии API шлют разные имена
// и регистр, выигрывает первое присутствующее непустое значение
var (
	vehicleLocalIDAliases = []string{"idLocal", "IdLocal", "id"}
	brandAliases          = []string{"nombreMarca", "marca", "Marca", "brand"}
	modelAliases          = []string{"nombreModelo", "modelo", "Modelo", "model"}
	versionAliases        = []string{"nombreVersion", "version", "Version"}
	yearAliases           = []string{"anyoVehiculo", "anyo", "Anyo", "year"}
	fuelAliases           = []string{"combustible", "Combustible", "fuel"}
	vinAliases            = []string{"bastidor", "Bastidor", "vin"}
	plateAliases          = []string{"matricula", "Matricula", "plate"}
	colorAliases          = []string{"color", "Color"}
	mileageAliases        = []string{"kilometraje", "Kilometraje", "km"}
	powerAliases          = []string{"potenciaHp", "potencia", "Potencia", "power"}
	doorsAliases          = []string{"puertas", "Puertas", "doors"}
	situationAliases      = []string{"situacion", "Situacion", "estado", "Estado"}

	partRefAliases     = []string{"refLocal", "RefLocal", "id"}
	partVehicleAliases = []string{"idVehiculo", "IdVehiculo", "idVehiculoOriginal"}
	familyCodeAliases  = []string{"codFamilia", "CodFamilia"}
	familyDescAliases  = []string{"descripcionFamilia", "DescripcionFamilia"}
	articleCodeAliases = []string{"codArticulo", "CodArticulo"}
	articleDescAliases = []string{"descripcionArticulo", "DescripcionArticulo"}
	mainRefAliases     = []string{"refPrincipal", "RefPrincipal"}
	priceAliases       = []string{"precio", "Precio", "price"}
	weightAliases      = []string{"peso", "Peso", "weight"}
	locationAliases    = []string{"ubicacion", "Ubicacion", "location"}
	notesAliases       = []string{"observaciones", "Observaciones", "notes"}

	imageAliases = []string{"imagenes", "UrlsImgs", "urlsImgs", "Imagenes"}
)

// NormalizeVehicle приводит сырую запись автомобиля к доменной
func NormalizeVehicle(raw map[string]interface{}) *domain.Vehicle {
	return &domain.Vehicle{
		LocalID:   toInt64(pickValue(raw, vehicleLocalIDAliases)),
		Brand:     pickString(raw, brandAliases),
		Model:     pickString(raw, modelAliases),
		Version:   pickString(raw, versionAliases),
		Year:      int(toInt64(pickValue(raw, yearAliases))),
		Fuel:      pickString(raw, fuelAliases),
		VIN:       pickString(raw, vinAliases),
		Plate:     pickString(raw, plateAliases),
		Color:     pickString(raw, colorAliases),
		Mileage:   int(toInt64(pickValue(raw, mileageAliases))),
		Power:     int(toInt64(pickValue(raw, powerAliases))),
		Doors:     int(toInt64(pickValue(raw, doorsAliases))),
		Images:    NormalizeImages(pickValue(raw, imageAliases)),
		Situation: pickString(raw, situationAliases),
		Active:    true,
	}
}

// NormalizePart приводит сырую запись запчасти к доменной. Цена источника
// приходит в минорных единицах (центах) и нормализуется делением на 100.
func NormalizePart(raw map[string]interface{}) *domain.Part {
	return &domain.Part{
		RefLocal:    toInt64(pickValue(raw, partRefAliases)),
		VehicleID:   toInt64(pickValue(raw, partVehicleAliases)),
		FamilyCode:  pickString(raw, familyCodeAliases),
		FamilyDesc:  pickString(raw, familyDescAliases),
		ArticleCode: pickString(raw, articleCodeAliases),
		ArticleDesc: pickString(raw, articleDescAliases),
		MainRef:     pickString(raw, mainRefAliases),
		Price:       NormalizePrice(pickValue(raw, priceAliases), true),
		Weight:      NormalizePrice(pickValue(raw, weightAliases), false),
		Location:    pickString(raw, locationAliases),
		Notes:       pickString(raw, notesAliases),
		Images:      NormalizeImages(pickValue(raw, imageAliases)),
	}
}

// NormalizeImages приводит поле изображений к списку непустых строк.
// Источник шлет null, одиночный URL, CSV-строку, массив с мусором или
// вообще объект; на любом входе результат - не-nil срез строк.
func NormalizeImages(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return []string{}
		}
		if !strings.Contains(s, ",") {
			return []string{s}
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		// объект, число, bool - не изображения
		return []string{}
	}
}

// NormalizePrice приводит цену к канонической десятичной строке.
// Запятая как десятичный разделитель допускается; неразбираемое значение
// деградирует до "0"; сентинел "-1" проходит как есть. При minorUnits
// целое значение от 100 трактуется как центы и делится на 100.
func NormalizePrice(value interface{}, minorUnits bool) string {
	s := stringValue(value)
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return "0"
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "0"
	}
	if v == -1 {
		return "-1"
	}
	if v == 0 {
		return "0"
	}
	if minorUnits && v == math.Trunc(v) && math.Abs(v) >= 100 {
		v = v / 100
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// pickValue возвращает первое присутствующее не-nil значение по цепочке алиасов
func pickValue(raw map[string]interface{}, aliases []string) interface{} {
	for _, key := range aliases {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

// pickString возвращает первое непустое строковое представление по цепочке алиасов
func pickString(raw map[string]interface{}, aliases []string) string {
	for _, key := range aliases {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		if s := strings.TrimSpace(stringValue(value)); s != "" {
			return s
		}
	}
	return ""
}

// stringValue приводит скаляр любого типа к строке; коллекции дают пустую строку
func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// toInt64 приводит значение к int64, отбрасывая дробную часть; мусор дает 0
func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
		return 0
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}
