package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"perfmonitor/models"
	. "perfmonitor/store"

	"code.cloudfoundry.org/clock/fakeclock"
	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
)

var _ = Describe("TimeSeriesStore", func() {

	var (
		logger  *lagertest.TestLogger
		fclock  *fakeclock.FakeClock
		dataDir string
		ts      *TimeSeriesStore
		err     error

		now time.Time
	)

	snapshotAt := func(t time.Time, cpu float64) *models.MetricSnapshot {
		return &models.MetricSnapshot{
			Timestamp: t.UnixMilli(),
			System:    models.SystemMetrics{CPUUsagePercent: cpu},
		}
	}

	writePartition := func(day time.Time, snapshots []*models.MetricSnapshot) {
		Expect(os.MkdirAll(filepath.Join(dataDir, "daily"), 0755)).To(Succeed())
		body, merr := json.Marshal(snapshots)
		Expect(merr).NotTo(HaveOccurred())
		name := day.UTC().Format("2006-01-02") + ".json"
		Expect(os.WriteFile(filepath.Join(dataDir, "daily", name), body, 0644)).To(Succeed())
	}

	BeforeEach(func() {
		logger = lagertest.NewTestLogger("store-test")
		now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
		fclock = fakeclock.NewFakeClock(now)
		dataDir, err = os.MkdirTemp("", "perfmonitor-store-test")
		Expect(err).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		ts, err = NewTimeSeriesStore(logger, fclock, dataDir, 5, 16)
		Expect(err).NotTo(HaveOccurred())
		ts.Start()
	})

	AfterEach(func() {
		ts.Stop()
		os.RemoveAll(dataDir)
	})

	Describe("Append and Query", func() {
		It("round-trips a snapshot for its exact timestamp", func() {
			snapshot := snapshotAt(now, 42)
			ts.Append(snapshot)

			result := ts.Query(snapshot.Timestamp, snapshot.Timestamp)
			Expect(result).To(HaveLen(1))
			Expect(result[0]).To(Equal(snapshot))
		})

		It("keeps only the most recent maxHistorySize snapshots", func() {
			for i := 0; i < 8; i++ {
				ts.Append(snapshotAt(now.Add(time.Duration(i)*time.Second), float64(i)))
			}
			Expect(ts.HistorySize()).To(Equal(5))

			result := ts.Query(0, now.Add(time.Hour).UnixMilli())
			Expect(result).To(HaveLen(5))
			Expect(result[0].System.CPUUsagePercent).To(Equal(float64(3)))
			Expect(result[4].System.CPUUsagePercent).To(Equal(float64(7)))
		})

		It("persists snapshots to the UTC day-partition", func() {
			ts.Append(snapshotAt(now, 42))

			path := filepath.Join(dataDir, "daily", "2024-05-10.json")
			Eventually(func() error {
				_, serr := os.Stat(path)
				return serr
			}).Should(Succeed())

			body, rerr := os.ReadFile(path)
			Expect(rerr).NotTo(HaveOccurred())
			persisted := []*models.MetricSnapshot{}
			Expect(json.Unmarshal(body, &persisted)).To(Succeed())
			Expect(persisted).To(HaveLen(1))
			Expect(persisted[0].System.CPUUsagePercent).To(Equal(42.0))
		})

		Context("when the store is stopped and started again", func() {
			It("keeps persisting snapshots", func() {
				ts.Stop()
				ts.Start()

				ts.Append(snapshotAt(now, 42))

				path := filepath.Join(dataDir, "daily", "2024-05-10.json")
				Eventually(func() error {
					_, serr := os.Stat(path)
					return serr
				}).Should(Succeed())
			})
		})

		Context("when the day rolls over", func() {
			It("stops caching the previous day's partition", func() {
				ts.Append(snapshotAt(now, 1))
				day1 := filepath.Join(dataDir, "daily", "2024-05-10.json")
				Eventually(func() error {
					_, serr := os.Stat(day1)
					return serr
				}).Should(Succeed())

				ts.Append(snapshotAt(now.AddDate(0, 0, 1), 2))
				day2 := filepath.Join(dataDir, "daily", "2024-05-11.json")
				Eventually(func() error {
					_, serr := os.Stat(day2)
					return serr
				}).Should(Succeed())

				// an uncached partition is re-read from disk before the next
				// append; rewriting the file externally proves the cache for
				// the rolled-over day is gone
				Expect(os.WriteFile(day1, []byte("[]"), 0644)).To(Succeed())

				ts.Append(snapshotAt(now.Add(time.Minute), 3))
				Eventually(func() float64 {
					body, rerr := os.ReadFile(day1)
					if rerr != nil {
						return -1
					}
					persisted := []*models.MetricSnapshot{}
					if json.Unmarshal(body, &persisted) != nil || len(persisted) != 1 {
						return -1
					}
					return persisted[0].System.CPUUsagePercent
				}).Should(Equal(3.0))
			})
		})

		Context("when the persist queue is full", func() {
			It("drops the oldest queued request and keeps the window intact", func() {
				idle, serr := NewTimeSeriesStore(logger, fclock, dataDir, 50, 2)
				Expect(serr).NotTo(HaveOccurred())

				// the writer loop is not running yet, so the queue fills up
				for i := 0; i < 4; i++ {
					idle.Append(snapshotAt(now.Add(time.Duration(i)*time.Second), float64(i)))
				}
				Expect(idle.HistorySize()).To(Equal(4))
				Eventually(logger.Buffer()).Should(gbytes.Say("persist-queue-full-dropping-oldest"))

				idle.Start()
				idle.Stop()

				body, rerr := os.ReadFile(filepath.Join(dataDir, "daily", "2024-05-10.json"))
				Expect(rerr).NotTo(HaveOccurred())
				persisted := []*models.MetricSnapshot{}
				Expect(json.Unmarshal(body, &persisted)).To(Succeed())
				Expect(persisted).To(HaveLen(2))
				Expect(persisted[0].System.CPUUsagePercent).To(Equal(2.0))
				Expect(persisted[1].System.CPUUsagePercent).To(Equal(3.0))
			})
		})

		Context("when the partition write fails", func() {
			It("keeps the snapshot in the in-memory window", func() {
				Expect(os.RemoveAll(filepath.Join(dataDir, "daily"))).To(Succeed())
				Expect(os.WriteFile(filepath.Join(dataDir, "daily"), []byte("not a directory"), 0644)).To(Succeed())

				snapshot := snapshotAt(now, 42)
				ts.Append(snapshot)

				Expect(ts.Query(snapshot.Timestamp, snapshot.Timestamp)).To(HaveLen(1))
				Eventually(logger.Buffer()).Should(gbytes.Say("persist-snapshot"))
			})
		})
	})

	Describe("LoadRecent", func() {
		BeforeEach(func() {
			writePartition(now.AddDate(0, 0, -1), []*models.MetricSnapshot{
				snapshotAt(now.AddDate(0, 0, -1), 10),
				snapshotAt(now.AddDate(0, 0, -1).Add(time.Minute), 11),
			})
			writePartition(now, []*models.MetricSnapshot{
				snapshotAt(now.Add(-time.Hour), 20),
			})
		})

		It("reconstructs the window from the last partitions, oldest first", func() {
			ts.LoadRecent(2)

			Expect(ts.HistorySize()).To(Equal(3))
			result := ts.Snapshots()
			Expect(result[0].System.CPUUsagePercent).To(Equal(10.0))
			Expect(result[2].System.CPUUsagePercent).To(Equal(20.0))
		})

		It("only loads the requested number of days", func() {
			ts.LoadRecent(1)

			Expect(ts.HistorySize()).To(Equal(1))
			Expect(ts.Snapshots()[0].System.CPUUsagePercent).To(Equal(20.0))
		})

		Context("when a partition is corrupt", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(dataDir, "daily", "2024-05-09.json"), []byte("{broken"), 0644)).To(Succeed())
			})

			It("skips it and loads the rest", func() {
				ts.LoadRecent(2)

				Expect(ts.HistorySize()).To(Equal(1))
				Eventually(logger.Buffer()).Should(gbytes.Say("load-recent-skip-partition"))
			})
		})

		Context("when the partitions hold more than the window capacity", func() {
			BeforeEach(func() {
				snapshots := []*models.MetricSnapshot{}
				for i := 0; i < 8; i++ {
					snapshots = append(snapshots, snapshotAt(now.Add(time.Duration(i)*time.Minute), float64(i)))
				}
				writePartition(now, snapshots)
			})

			It("keeps the most recent entries", func() {
				ts.LoadRecent(1)

				Expect(ts.HistorySize()).To(Equal(5))
				result := ts.Snapshots()
				Expect(result[len(result)-1].System.CPUUsagePercent).To(Equal(7.0))
			})
		})
	})

	Describe("Prune", func() {
		BeforeEach(func() {
			writePartition(now.AddDate(0, 0, -10), []*models.MetricSnapshot{snapshotAt(now.AddDate(0, 0, -10), 1)})
			writePartition(now.AddDate(0, 0, -3), []*models.MetricSnapshot{snapshotAt(now.AddDate(0, 0, -3), 2)})
		})

		It("deletes partitions older than the retention window", func() {
			ts.Prune(7)

			old := filepath.Join(dataDir, "daily", now.AddDate(0, 0, -10).Format("2006-01-02")+".json")
			recent := filepath.Join(dataDir, "daily", now.AddDate(0, 0, -3).Format("2006-01-02")+".json")

			_, serr := os.Stat(old)
			Expect(os.IsNotExist(serr)).To(BeTrue())
			_, serr = os.Stat(recent)
			Expect(serr).NotTo(HaveOccurred())
		})
	})

	Describe("SaveAlerts", func() {
		It("writes the alert log asynchronously", func() {
			ts.SaveAlerts([]models.Alert{
				models.NewAlert(models.MetricNameCPU, models.AlertSeverityCritical, 95, 90, now.UnixMilli()),
			})

			path := filepath.Join(dataDir, "alerts", "alerts.json")
			Eventually(func() error {
				_, serr := os.Stat(path)
				return serr
			}).Should(Succeed())

			body, rerr := os.ReadFile(path)
			Expect(rerr).NotTo(HaveOccurred())
			alerts := []models.Alert{}
			Expect(json.Unmarshal(body, &alerts)).To(Succeed())
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(models.AlertSeverityCritical))

			Expect(ts.LoadAlerts()).To(Equal(alerts))
		})

		It("loads an empty log when no alerts were saved", func() {
			Expect(ts.LoadAlerts()).To(BeEmpty())
		})
	})

	Describe("SaveState and LoadState", func() {
		It("round-trips the warm-restart state", func() {
			state := &models.MonitorState{
				LastCollectionTime: now.UnixMilli(),
				RecentSnapshots:    []*models.MetricSnapshot{snapshotAt(now, 42)},
				Thresholds: map[models.MetricName]models.Threshold{
					models.MetricNameCPU: {Metric: models.MetricNameCPU, Warning: 70, Critical: 90},
				},
			}
			Expect(ts.SaveState(state)).To(Succeed())

			loaded := ts.LoadState()
			Expect(loaded).NotTo(BeNil())
			Expect(loaded.LastCollectionTime).To(Equal(now.UnixMilli()))
			Expect(loaded.RecentSnapshots).To(HaveLen(1))
			Expect(loaded.Thresholds[models.MetricNameCPU].Critical).To(Equal(90.0))
		})

		It("returns nil when no state file exists", func() {
			Expect(ts.LoadState()).To(BeNil())
		})
	})
})
