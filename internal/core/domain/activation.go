package domain

import "strings"

// Состояния автомобиля в источнике, при которых его запчасти снимаются с витрины
var inactiveVehicleSituations = map[string]bool{
	"VENDIDA":   true,
	"BAJA":      true,
	"ELIMINADA": true,
}

// Токены-заглушки в описаниях. Запись с таким текстом источник сам считает
// неопознанной, продавать ее нельзя.
var descriptionBlocklist = []string{
	"NO IDENTIFICADO",
	"NO IDENTIFICADA",
	"SIN IDENTIFICAR",
	"UNIDENTIFIED",
}

// При цене "меньше -1" источник прислал мусор, а не сентинел скрытой цены
const hardInvalidPriceBelow = -1

// IsInactiveSituation проверяет состояние автомобиля против списка снятых с учета
func IsInactiveSituation(situation string) bool {
	return inactiveVehicleSituations[foldText(situation)]
}

// ContainsBlockedToken ищет токен-заглушку в тексте без учета регистра и диакритики
func ContainsBlockedToken(text string) bool {
	folded := foldText(text)
	if folded == "" {
		return false
	}
	for _, token := range descriptionBlocklist {
		if strings.Contains(folded, token) {
			return true
		}
	}
	return false
}

// DecideActive решает, видна ли запчасть в каталоге. Правила применяются по
// порядку и намеренно асимметричны для двух классов автомобилей:
//
//  1. Автомобиль продан/снят с учета - запчасть неактивна.
//  2. Описание или марка содержит токен-заглушку - неактивна.
//  3. Запчасть разобранного автомобиля (VehicleID < 0) - активна, даже без
//     корреляции и с сентинелом цены "-1": у таких запчастей по устройству
//     источника часто нет ни цены, ни полноценного автомобиля. Отсекается
//     только цена грязнее сентинела.
//  4. Запчасть физического автомобиля - активна только при цене строго больше
//     нуля И успешной корреляции.
//
// Сведение этих правил к одному общему для обоих классов прячет с витрины
// большую часть валидного склада разборки.
func DecideActive(part *Part, vehicleSituation string, matched bool) bool {
	if IsInactiveSituation(vehicleSituation) {
		return false
	}
	if ContainsBlockedToken(part.ArticleDesc) || ContainsBlockedToken(part.VehicleBrand) {
		return false
	}

	if part.IsFromProcessedVehicle() {
		return part.PriceValue() >= hardInvalidPriceBelow
	}

	return part.PriceValue() > 0 && matched
}
