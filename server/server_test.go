package server_test

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"perfmonitor/config"
	"perfmonitor/models"
	"perfmonitor/server"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/ginkgomon_v2"
)

const testServerPort = 7325

var _ = Describe("Server", func() {
	var (
		view       *fakeMonitorView
		serverProc ifrit.Process
		serverURL  *url.URL
		rsp        *http.Response
		err        error
	)

	BeforeEach(func() {
		view = &fakeMonitorView{
			status: models.MonitorStatus{
				State:       "running",
				HistorySize: 42,
				AlertCount:  3,
			},
			snapshots: []*models.MetricSnapshot{
				{Timestamp: 111, System: models.SystemMetrics{CPUUsagePercent: 12.5}},
				{Timestamp: 222, System: models.SystemMetrics{CPUUsagePercent: 37.5}},
			},
			aggregates: []models.MetricAggregate{
				{Metric: models.MetricNameCPU, Unit: "%", Min: 12.5, Avg: 25, Max: 37.5, Samples: 2},
			},
			alerts: []models.Alert{
				{Metric: models.MetricNameCPU, Severity: models.AlertSeverityCritical, Value: 95, Threshold: 90, Timestamp: 333},
			},
		}

		conf := config.ServerConfig{Port: testServerPort}
		httpServer, err := server.NewServer(lagertest.NewTestLogger("server"), conf, view)
		Expect(err).NotTo(HaveOccurred())
		serverProc = ginkgomon_v2.Invoke(httpServer)

		serverURL, err = url.Parse(fmt.Sprintf("http://127.0.0.1:%d", testServerPort))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ginkgomon_v2.Interrupt(serverProc)
	})

	Describe("GET /v1/status", func() {
		JustBeforeEach(func() {
			serverURL.Path = "/v1/status"
			rsp, err = http.Get(serverURL.String())
		})

		It("returns the monitor status", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))

			status := models.MonitorStatus{}
			Expect(json.NewDecoder(rsp.Body).Decode(&status)).To(Succeed())
			rsp.Body.Close()

			Expect(status.State).To(Equal("running"))
			Expect(status.HistorySize).To(Equal(42))
			Expect(status.AlertCount).To(Equal(3))
		})
	})

	Describe("GET /v1/metric_histories", func() {
		JustBeforeEach(func() {
			rsp, err = http.Get(serverURL.String())
		})

		Context("with no query parameters", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/metric_histories"
				serverURL.RawQuery = ""
			})

			It("queries the full range", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusOK))

				snapshots := []*models.MetricSnapshot{}
				Expect(json.NewDecoder(rsp.Body).Decode(&snapshots)).To(Succeed())
				rsp.Body.Close()

				Expect(snapshots).To(HaveLen(2))
				Expect(snapshots[0].Timestamp).To(Equal(int64(111)))

				start, end := view.RangeArgsForCall(0)
				Expect(start).To(Equal(int64(0)))
				Expect(end).To(Equal(int64(math.MaxInt64)))
			})
		})

		Context("with start and end", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/metric_histories"
				serverURL.RawQuery = "start=100&end=200"
			})

			It("passes the parsed range through", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusOK))
				rsp.Body.Close()

				start, end := view.RangeArgsForCall(0)
				Expect(start).To(Equal(int64(100)))
				Expect(end).To(Equal(int64(200)))
			})
		})

		Context("with a non-numeric start", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/metric_histories"
				serverURL.RawQuery = "start=abc"
			})

			It("returns 400", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))

				errResponse := models.ErrorResponse{}
				Expect(json.NewDecoder(rsp.Body).Decode(&errResponse)).To(Succeed())
				rsp.Body.Close()

				Expect(errResponse.Code).To(Equal("Bad-Request"))
				Expect(errResponse.Message).To(Equal("Error parsing start time"))
			})
		})

		Context("with a non-numeric end", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/metric_histories"
				serverURL.RawQuery = "end=xyz"
			})

			It("returns 400", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))

				errResponse := models.ErrorResponse{}
				Expect(json.NewDecoder(rsp.Body).Decode(&errResponse)).To(Succeed())
				rsp.Body.Close()

				Expect(errResponse.Message).To(Equal("Error parsing end time"))
			})
		})

		Context("with a repeated start parameter", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/metric_histories"
				serverURL.RawQuery = "start=1&start=2"
			})

			It("returns 400", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
				rsp.Body.Close()
			})
		})
	})

	Describe("GET /v1/aggregate", func() {
		JustBeforeEach(func() {
			rsp, err = http.Get(serverURL.String())
		})

		Context("with a valid window", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/aggregate"
				serverURL.RawQuery = "window=1h"
			})

			It("returns per-metric aggregates", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusOK))

				aggregates := []models.MetricAggregate{}
				Expect(json.NewDecoder(rsp.Body).Decode(&aggregates)).To(Succeed())
				rsp.Body.Close()

				Expect(aggregates).To(HaveLen(1))
				Expect(aggregates[0].Metric).To(Equal(models.MetricNameCPU))
				Expect(aggregates[0].Avg).To(Equal(25.0))
				Expect(view.AggregateArgsForCall(0)).To(Equal("1h"))
			})
		})

		Context("without a window", func() {
			BeforeEach(func() {
				serverURL.Path = "/v1/aggregate"
				serverURL.RawQuery = ""
			})

			It("returns 400", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))

				errResponse := models.ErrorResponse{}
				Expect(json.NewDecoder(rsp.Body).Decode(&errResponse)).To(Succeed())
				rsp.Body.Close()

				Expect(errResponse.Message).To(Equal("Incorrect window parameter in query string"))
			})
		})

		Context("when the window does not parse", func() {
			BeforeEach(func() {
				view.aggErr = fmt.Errorf("invalid aggregation window: bogus")
				serverURL.Path = "/v1/aggregate"
				serverURL.RawQuery = "window=bogus"
			})

			It("returns 400", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))

				errResponse := models.ErrorResponse{}
				Expect(json.NewDecoder(rsp.Body).Decode(&errResponse)).To(Succeed())
				rsp.Body.Close()

				Expect(errResponse.Message).To(Equal("Error parsing aggregation window"))
			})
		})
	})

	Describe("GET /v1/alerts", func() {
		JustBeforeEach(func() {
			serverURL.Path = "/v1/alerts"
			rsp, err = http.Get(serverURL.String())
		})

		It("returns the alert log", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))

			alerts := []models.Alert{}
			Expect(json.NewDecoder(rsp.Body).Decode(&alerts)).To(Succeed())
			rsp.Body.Close()

			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(models.AlertSeverityCritical))
			Expect(alerts[0].Value).To(Equal(95.0))
		})
	})

	Describe("an unknown path", func() {
		JustBeforeEach(func() {
			serverURL.Path = "/v1/nope"
			rsp, err = http.Get(serverURL.String())
		})

		It("returns 404", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusNotFound))
			rsp.Body.Close()
		})
	})
})
