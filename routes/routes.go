package routes

import (
	"github.com/gorilla/mux"

	"net/http"
)

const (
	StatusPath         = "/v1/status"
	GetStatusRouteName = "GetStatus"

	MetricHistoriesPath         = "/v1/metric_histories"
	GetMetricHistoriesRouteName = "GetMetricHistories"

	AggregatePath         = "/v1/aggregate"
	GetAggregateRouteName = "GetAggregate"

	AlertsPath         = "/v1/alerts"
	GetAlertsRouteName = "GetAlerts"
)

type PerfMonitorRoute struct {
	monitorRoutes *mux.Router
}

var perfMonitorRouteInstance = newRouters()

func newRouters() *PerfMonitorRoute {
	instance := &PerfMonitorRoute{
		monitorRoutes: mux.NewRouter(),
	}

	instance.monitorRoutes.Path(StatusPath).Methods(http.MethodGet).Name(GetStatusRouteName)
	instance.monitorRoutes.Path(MetricHistoriesPath).Methods(http.MethodGet).Name(GetMetricHistoriesRouteName)
	instance.monitorRoutes.Path(AggregatePath).Methods(http.MethodGet).Name(GetAggregateRouteName)
	instance.monitorRoutes.Path(AlertsPath).Methods(http.MethodGet).Name(GetAlertsRouteName)

	return instance
}

func MonitorRoutes() *mux.Router {
	return perfMonitorRouteInstance.monitorRoutes
}
