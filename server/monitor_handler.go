package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"perfmonitor/models"

	"code.cloudfoundry.org/lager/v3"
)

type MonitorHandler struct {
	logger lager.Logger
	view   MonitorView
}

func NewMonitorHandler(logger lager.Logger, view MonitorView) *MonitorHandler {
	return &MonitorHandler{
		logger: logger,
		view:   view,
	}
}

func (h *MonitorHandler) GetStatus(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	writeJSONResponse(w, http.StatusOK, h.view.Status())
}

func (h *MonitorHandler) GetMetricHistories(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	startParam := r.URL.Query()["start"]
	endParam := r.URL.Query()["end"]
	h.logger.Debug("get-metric-histories", lager.Data{"start": startParam, "end": endParam})

	var err error
	start := int64(0)
	end := int64(math.MaxInt64)

	if len(startParam) == 1 {
		start, err = strconv.ParseInt(startParam[0], 10, 64)
		if err != nil {
			h.logger.Error("get-metric-histories-parse-start-time", err, lager.Data{"start": startParam})
			writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
				Code:    "Bad-Request",
				Message: "Error parsing start time"})
			return
		}
	} else if len(startParam) > 1 {
		h.logger.Error("get-metric-histories-get-start-time", err, lager.Data{"start": startParam})
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Code:    "Bad-Request",
			Message: "Incorrect start parameter in query string"})
		return
	}

	if len(endParam) == 1 {
		end, err = strconv.ParseInt(endParam[0], 10, 64)
		if err != nil {
			h.logger.Error("get-metric-histories-parse-end-time", err, lager.Data{"end": endParam})
			writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
				Code:    "Bad-Request",
				Message: "Error parsing end time"})
			return
		}
	} else if len(endParam) > 1 {
		h.logger.Error("get-metric-histories-get-end-time", err, lager.Data{"end": endParam})
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Code:    "Bad-Request",
			Message: "Incorrect end parameter in query string"})
		return
	}

	writeJSONResponse(w, http.StatusOK, h.view.Range(start, end))
}

func (h *MonitorHandler) GetAggregate(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	windowParam := r.URL.Query()["window"]
	if len(windowParam) != 1 {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Code:    "Bad-Request",
			Message: "Incorrect window parameter in query string"})
		return
	}

	aggregates, err := h.view.Aggregate(windowParam[0])
	if err != nil {
		h.logger.Error("get-aggregate", err, lager.Data{"window": windowParam})
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Code:    "Bad-Request",
			Message: "Error parsing aggregation window"})
		return
	}

	writeJSONResponse(w, http.StatusOK, aggregates)
}

func (h *MonitorHandler) GetAlerts(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	writeJSONResponse(w, http.StatusOK, h.view.Alerts())
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, object interface{}) {
	body, err := json.Marshal(object)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
