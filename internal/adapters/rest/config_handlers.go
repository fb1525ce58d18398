package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/contracts"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"
)

// ConfigHandlers обслуживает настройки API и расписания импортов
type ConfigHandlers struct {
	apiConfig port.ApiConfigPort
	schedules port.SchedulePort
}

func NewConfigHandlers(apiConfig port.ApiConfigPort, schedules port.SchedulePort) *ConfigHandlers {
	return &ConfigHandlers{apiConfig: apiConfig, schedules: schedules}
}

// GetApiConfig обрабатывает GET /api-config. Ключ наружу не отдаем.
func (h *ConfigHandlers) GetApiConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.apiConfig.GetActive(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveApiConfig) {
			WriteJSONError(w, http.StatusNotFound, "no active api configuration")
			return
		}
		contextkeys.LoggerFromContext(r.Context()).Error("failed to load api configuration", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "failed to load api configuration")
		return
	}
	RespondWithJSON(w, http.StatusOK, ApiConfigResponse{
		ID:        cfg.ID,
		HasApiKey: cfg.ApiKey != "",
		CompanyID: cfg.CompanyID,
		Channel:   cfg.Channel,
		Active:    cfg.Active,
		UpdatedAt: cfg.UpdatedAt,
	})
}

// PutApiConfig обрабатывает PUT /api-config
func (h *ConfigHandlers) PutApiConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := contracts.ValidateRequest("ApiConfigRequest", "1.0.0", body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ApiConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := &domain.ApiConfig{
		ApiKey:    req.ApiKey,
		CompanyID: req.CompanyID,
		Channel:   req.Channel,
		Active:    req.Active,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.apiConfig.Update(r.Context(), cfg); err != nil {
		contextkeys.LoggerFromContext(r.Context()).Error("failed to save api configuration", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "failed to save api configuration")
		return
	}

	contextkeys.LoggerFromContext(r.Context()).Info("api configuration updated",
		port.Fields{"company_id": cfg.CompanyID, "channel": cfg.Channel, "active": cfg.Active})
	RespondWithJSON(w, http.StatusOK, ApiConfigResponse{
		ID:        cfg.ID,
		HasApiKey: cfg.ApiKey != "",
		CompanyID: cfg.CompanyID,
		Channel:   cfg.Channel,
		Active:    cfg.Active,
		UpdatedAt: cfg.UpdatedAt,
	})
}

// ListSchedules обрабатывает GET /schedules
func (h *ConfigHandlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.List(r.Context())
	if err != nil {
		contextkeys.LoggerFromContext(r.Context()).Error("failed to list schedules", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	RespondWithJSON(w, http.StatusOK, schedules)
}

// PutSchedule обрабатывает PUT /schedules: создает или обновляет расписание
// для указанного типа импорта
func (h *ConfigHandlers) PutSchedule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := contracts.ValidateRequest("ScheduleRequest", "1.0.0", body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := domain.ParseImportKind(req.Kind)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule := &domain.ImportSchedule{
		Kind:       kind,
		Frequency:  time.Duration(req.FrequencyHours) * time.Hour,
		StartTime:  req.StartTime,
		Active:     req.Active,
		FullImport: req.FullImport,
	}
	next, err := schedule.ComputeNextRun(time.Now())
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule.NextRunAt = &next

	if err := h.schedules.Save(r.Context(), schedule); err != nil {
		contextkeys.LoggerFromContext(r.Context()).Error("failed to save schedule", err,
			port.Fields{"kind": string(kind)})
		WriteJSONError(w, http.StatusInternalServerError, "failed to save schedule")
		return
	}

	contextkeys.LoggerFromContext(r.Context()).Info("schedule updated", port.Fields{
		"kind":      string(kind),
		"frequency": schedule.Frequency.String(),
		"active":    schedule.Active,
	})
	RespondWithJSON(w, http.StatusOK, schedule)
}
