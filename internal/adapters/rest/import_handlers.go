package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/contracts"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"
	"metasync-import-service/internal/core/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ImportHandlers обслуживает запуск и просмотр импортов
type ImportHandlers struct {
	dispatcher *usecase.ImportDispatcher
	ledger     port.ImportLedgerPort
}

func NewImportHandlers(dispatcher *usecase.ImportDispatcher, ledger port.ImportLedgerPort) *ImportHandlers {
	return &ImportHandlers{dispatcher: dispatcher, ledger: ledger}
}

// TriggerImport обрабатывает POST /imports/{kind}. Сам импорт выполняется в
// фоне, клиент сразу получает 202; состояние запуска доступно через журнал.
func (h *ImportHandlers) TriggerImport(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())

	kind, err := domain.ParseImportKind(chi.URLParam(r, "kind"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req TriggerImportRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := contracts.ValidateRequest("TriggerImportRequest", "1.0.0", body); err != nil {
			WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := usecase.ImportOptions{FullImport: req.FullImport, Since: req.Since}

	if active, err := h.ledger.FindActive(r.Context(), kind); err == nil && active != nil {
		WriteJSONError(w, http.StatusConflict,
			fmt.Sprintf("%s import is already running, run id %s", kind, active.ID))
		return
	}

	// у фонового запуска своя жизнь, он не должен умирать вместе с HTTP-запросом
	bg := contextkeys.ContextWithLogger(context.WithoutCancel(r.Context()), logger)
	go func() {
		if _, err := h.dispatcher.Trigger(bg, kind, opts); err != nil &&
			!errors.Is(err, usecase.ErrRunAlreadyActive) {
			logger.Error("background import finished with error", err,
				port.Fields{"kind": string(kind)})
		}
	}()

	logger.Info("import accepted", port.Fields{
		"kind":        string(kind),
		"full_import": opts.FullImport,
	})
	RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"kind":        string(kind),
		"full_import": opts.FullImport,
	})
}

// ListImports обрабатывает GET /imports
func (h *ImportHandlers) ListImports(w http.ResponseWriter, r *http.Request) {
	limit, err := GetLimitOrDefault(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := GetOffsetOrDefault(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.ledger.FindRecent(r.Context(), *limit, *offset)
	if err != nil {
		contextkeys.LoggerFromContext(r.Context()).Error("failed to list import runs", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "failed to list import runs")
		return
	}
	RespondWithJSON(w, http.StatusOK, runs)
}

// GetImport обрабатывает GET /imports/{id}
func (h *ImportHandlers) GetImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.ledger.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			WriteJSONError(w, http.StatusNotFound, "import run not found")
			return
		}
		contextkeys.LoggerFromContext(r.Context()).Error("failed to load import run", err,
			port.Fields{"run_id": id.String()})
		WriteJSONError(w, http.StatusInternalServerError, "failed to load import run")
		return
	}
	RespondWithJSON(w, http.StatusOK, run)
}

// CancelImport обрабатывает POST /imports/{id}/cancel. Отмена переводит
// незавершенный запуск в failed; терминальные записи не трогаем.
func (h *ImportHandlers) CancelImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.ledger.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			WriteJSONError(w, http.StatusNotFound, "import run not found")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "failed to load import run")
		return
	}
	if run.IsTerminal() {
		WriteJSONError(w, http.StatusConflict, "import run is already finished")
		return
	}

	run.AppendError("canceled by operator request")
	if err := run.Finish(domain.RunFailed); err != nil {
		WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err := h.ledger.Update(r.Context(), run); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			WriteJSONError(w, http.StatusConflict, "import run finished concurrently")
			return
		}
		contextkeys.LoggerFromContext(r.Context()).Error("failed to cancel import run", err,
			port.Fields{"run_id": id.String()})
		WriteJSONError(w, http.StatusInternalServerError, "failed to cancel import run")
		return
	}

	contextkeys.LoggerFromContext(r.Context()).Info("import run canceled",
		port.Fields{"run_id": id.String(), "kind": string(run.Kind)})
	RespondWithJSON(w, http.StatusOK, run)
}
