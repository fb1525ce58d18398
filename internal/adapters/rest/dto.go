package rest

import "time"

// TriggerImportRequest - тело POST /imports/{kind}
type TriggerImportRequest struct {
	FullImport bool       `json:"full_import"`
	Since      *time.Time `json:"since,omitempty"`
}

// ApiConfigRequest - тело PUT /api-config
type ApiConfigRequest struct {
	ApiKey    string `json:"api_key"`
	CompanyID int    `json:"company_id"`
	Channel   string `json:"channel"`
	Active    bool   `json:"active"`
}

// ApiConfigResponse не раскрывает сам ключ, только его наличие
type ApiConfigResponse struct {
	ID        int64     `json:"id"`
	HasApiKey bool      `json:"has_api_key"`
	CompanyID int       `json:"company_id"`
	Channel   string    `json:"channel"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleRequest - тело PUT /schedules
type ScheduleRequest struct {
	Kind           string `json:"kind"`
	FrequencyHours int    `json:"frequency_hours"`
	StartTime      string `json:"start_time"`
	Active         bool   `json:"active"`
	FullImport     bool   `json:"full_import"`
}
