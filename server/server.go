package server

import (
	"fmt"
	"net/http"

	"perfmonitor/config"
	"perfmonitor/models"
	"perfmonitor/routes"

	"code.cloudfoundry.org/lager/v3"
	"github.com/gorilla/mux"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/http_server"
)

// MonitorView is the read-only query surface the HTTP server exposes.
type MonitorView interface {
	Status() models.MonitorStatus
	Range(start, end int64) []*models.MetricSnapshot
	Aggregate(window string) ([]models.MetricAggregate, error)
	Alerts() []models.Alert
}

type VarsFunc func(w http.ResponseWriter, r *http.Request, vars map[string]string)

func (vh VarsFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vh(w, r, vars)
}

func NewServer(logger lager.Logger, conf config.ServerConfig, view MonitorView) (ifrit.Runner, error) {
	mh := NewMonitorHandler(logger, view)

	r := routes.MonitorRoutes()
	r.Get(routes.GetStatusRouteName).Handler(VarsFunc(mh.GetStatus))
	r.Get(routes.GetMetricHistoriesRouteName).Handler(VarsFunc(mh.GetMetricHistories))
	r.Get(routes.GetAggregateRouteName).Handler(VarsFunc(mh.GetAggregate))
	r.Get(routes.GetAlertsRouteName).Handler(VarsFunc(mh.GetAlerts))

	addr := fmt.Sprintf("0.0.0.0:%d", conf.Port)

	logger.Info("http-server-created", lager.Data{"addr": addr})
	return http_server.New(addr, r), nil
}
