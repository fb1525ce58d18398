package metasync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/gocolly/colly/v2"
)

// FetchVehicles читает одну страницу изменений автомобилей
func (a *MetasyncAdapter) FetchVehicles(ctx context.Context, creds *domain.ApiConfig, q port.FetchQuery) (*port.SourceBatch, error) {
	root, err := a.fetchEnvelope(ctx, endpointVehiclesChanges, creds, q)
	if err != nil {
		return nil, err
	}

	batch := &port.SourceBatch{}
	for _, raw := range extractRecordArray(root, vehicleArrayKeys) {
		v := NormalizeVehicle(raw)
		if v.LocalID == 0 {
			continue
		}
		batch.Vehicles = append(batch.Vehicles, v)
		if v.LocalID > batch.MaxLocalID {
			batch.MaxLocalID = v.LocalID
		}
	}
	fillResultSet(batch, root)
	return batch, nil
}

// FetchParts читает одну страницу изменений запчастей вместе с параллельным
// массивом автомобилей из того же ответа
func (a *MetasyncAdapter) FetchParts(ctx context.Context, creds *domain.ApiConfig, q port.FetchQuery) (*port.SourceBatch, error) {
	root, err := a.fetchEnvelope(ctx, endpointPartsChanges, creds, q)
	if err != nil {
		return nil, err
	}

	batch := &port.SourceBatch{}
	for _, raw := range extractRecordArray(root, partArrayKeys) {
		p := NormalizePart(raw)
		if p.RefLocal == 0 {
			continue
		}
		batch.Parts = append(batch.Parts, p)
		if p.RefLocal > batch.MaxLocalID {
			batch.MaxLocalID = p.RefLocal
		}
	}
	for _, raw := range extractRecordArray(root, vehicleArrayKeys) {
		v := NormalizeVehicle(raw)
		if v.LocalID == 0 {
			continue
		}
		batch.Vehicles = append(batch.Vehicles, v)
	}
	fillResultSet(batch, root)
	return batch, nil
}

// fetchEnvelope выполняет GET с заголовками протокола MetaSync и возвращает
// корневой объект ответа
func (a *MetasyncAdapter) fetchEnvelope(ctx context.Context, endpoint string, creds *domain.ApiConfig, q port.FetchQuery) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// наследует лимиты, но имеет свои собственные обработчики
	collector := a.collector.Clone()

	var root map[string]interface{}
	var responseErr error

	targetURL, err := url.JoinPath(a.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("metasync adapter: failed to build URL for %s: %w", endpoint, err)
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("apikey", creds.ApiKey)
		r.Headers.Set("fecha", q.Since.Format(sinceHeaderFormat))
		r.Headers.Set("lastid", strconv.FormatInt(q.LastID, 10))
		r.Headers.Set("offset", strconv.Itoa(q.PageSize))
		r.Headers.Set("canal", creds.Channel)
		r.Headers.Set("idempresa", strconv.Itoa(creds.CompanyID))
	})

	collector.OnResponse(func(r *colly.Response) {
		dec := json.NewDecoder(bytes.NewReader(r.Body))
		// ids не должны терять точность в float64
		dec.UseNumber()
		if jsonErr := dec.Decode(&root); jsonErr != nil {
			responseErr = fmt.Errorf("metasync adapter: failed to parse JSON from %s: %w", r.Request.URL.String(), jsonErr)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		responseErr = &port.SourceError{StatusCode: r.StatusCode, Err: err}
	})

	visitErr := collector.Visit(targetURL)
	if visitErr != nil {
		return nil, &port.SourceError{Err: fmt.Errorf("failed to visit %s: %w", targetURL, visitErr)}
	}
	collector.Wait()

	if responseErr != nil {
		return nil, responseErr
	}
	if root == nil {
		return nil, fmt.Errorf("metasync adapter: empty response from %s", targetURL)
	}
	return root, nil
}

// Известные варианты размещения массивов в ответе: разные версии API кладут
// данные под разными ключами
var (
	partArrayKeys    = []string{"data.piezas", "piezas", "Piezas", "Partes", "elements", "data"}
	vehicleArrayKeys = []string{"data.vehiculos", "vehiculos", "Vehiculos", "vehicles"}
)

// extractRecordArray достает первый существующий массив записей по списку
// ключей (поддерживаются пути через точку)
func extractRecordArray(root map[string]interface{}, keys []string) []map[string]interface{} {
	for _, key := range keys {
		value := lookupPath(root, key)
		arr, ok := value.([]interface{})
		if !ok {
			continue
		}
		records := make([]map[string]interface{}, 0, len(arr))
		for _, item := range arr {
			if m, ok := item.(map[string]interface{}); ok {
				records = append(records, m)
			}
		}
		if len(records) > 0 {
			return records
		}
	}
	return nil
}

func lookupPath(root map[string]interface{}, path string) interface{} {
	current := interface{}(root)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[path[start:i]]
		if !ok {
			return nil
		}
		start = i + 1
	}
	return current
}

// fillResultSet разбирает метаданные пагинации: result_set имеет приоритет,
// затем paginacion
func fillResultSet(batch *port.SourceBatch, root map[string]interface{}) {
	if rs, ok := lookupPath(root, "result_set").(map[string]interface{}); ok {
		batch.Total = int(toInt64(rs["total"]))
		batch.NextCursor = toInt64(rs["lastId"])
		if more, ok := rs["masRegistros"].(bool); ok {
			batch.HasMore = &more
		}
	}
	if batch.NextCursor == 0 {
		if pg, ok := lookupPath(root, "paginacion").(map[string]interface{}); ok {
			batch.NextCursor = toInt64(pg["lastId"])
		}
	}
}
