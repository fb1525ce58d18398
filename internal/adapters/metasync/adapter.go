package metasync

import (
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	// Эндпоинты внешнего API: запчасти (с параллельным массивом автомобилей)
	// и только автомобили
	endpointPartsChanges    = "RecuperarCambiosCanal"
	endpointVehiclesChanges = "RecuperarCambiosVehiculosCanal"

	// Формат заголовка fecha
	sinceHeaderFormat = "02/01/2006 15:04:05"
)

// MetasyncAdapter отвечает за все взаимодействия с API MetaSync
type MetasyncAdapter struct {
	// один родительский коллектор, который разделяет лимиты
	collector *colly.Collector
	baseURL   string
}

// NewMetasyncAdapter - конструктор
func NewMetasyncAdapter(baseURL string, domainGlob string) (*MetasyncAdapter, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(60 * time.Second)

	// Правила наследуются всеми клонами коллектора
	err := c.Limit(&colly.LimitRule{
		DomainGlob:  domainGlob,
		Parallelism: 1,
		Delay:       500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("MetasyncAdapter: failed to set limit rule: %w", err)
	}

	return &MetasyncAdapter{
		collector: c,
		baseURL:   baseURL,
	}, nil
}
