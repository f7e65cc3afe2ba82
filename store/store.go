package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"perfmonitor/collection"
	"perfmonitor/models"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
)

const (
	dailyDirName   = "daily"
	alertsDirName  = "alerts"
	alertsFileName = "alerts.json"
	stateFileName  = "monitor-state.json"

	// partitionKeyLayout is the day-partition file name. Partitions are keyed
	// by UTC calendar date: a local calendar would make partition membership
	// depend on the host timezone and shift across DST.
	partitionKeyLayout = "2006-01-02"
)

type persistKind int

const (
	persistSnapshot persistKind = iota
	persistAlerts
)

type persistRequest struct {
	kind     persistKind
	snapshot *models.MetricSnapshot
	alerts   []models.Alert
}

// TimeSeriesStore owns the bounded in-memory snapshot window and the on-disk
// layout under dataDir. Disk writes run on a single writer goroutine behind a
// bounded queue; the hot append path never waits on IO.
type TimeSeriesStore struct {
	logger    lager.Logger
	sclock    clock.Clock
	dataDir   string
	ring      *collection.SnapshotRing
	persistCh chan persistRequest
	doneChan  chan bool
	stopped   chan bool

	// partitionLock guards partitions between the writer goroutine and the
	// retention task.
	partitionLock sync.Mutex
	partitions    map[string][]*models.MetricSnapshot
}

func NewTimeSeriesStore(logger lager.Logger, sclock clock.Clock, dataDir string, maxHistorySize, persistQueueSize int) (*TimeSeriesStore, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, dailyDirName), filepath.Join(dataDir, alertsDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	return &TimeSeriesStore{
		logger:     logger.Session("time-series-store"),
		sclock:     sclock,
		dataDir:    dataDir,
		ring:       collection.NewSnapshotRing(maxHistorySize),
		persistCh:  make(chan persistRequest, persistQueueSize),
		partitions: map[string][]*models.MetricSnapshot{},
	}, nil
}

func (ts *TimeSeriesStore) Start() {
	// fresh channels per cycle so a stopped store can be started again
	ts.doneChan = make(chan bool)
	ts.stopped = make(chan bool)
	go ts.startPersistLoop()
	ts.logger.Info("started", lager.Data{"dataDir": ts.dataDir})
}

// Stop drains whatever is left in the persist queue before returning.
func (ts *TimeSeriesStore) Stop() {
	close(ts.doneChan)
	<-ts.stopped
	ts.logger.Info("stopped")
}

// Append adds the snapshot to the in-memory window and queues the durable
// write. A full queue drops the oldest queued request rather than block the
// sampling tick.
func (ts *TimeSeriesStore) Append(snapshot *models.MetricSnapshot) {
	ts.ring.Put(snapshot)
	ts.enqueue(persistRequest{kind: persistSnapshot, snapshot: snapshot})
}

// SaveAlerts queues a rewrite of alerts/alerts.json with the given log.
func (ts *TimeSeriesStore) SaveAlerts(alerts []models.Alert) {
	ts.enqueue(persistRequest{kind: persistAlerts, alerts: alerts})
}

func (ts *TimeSeriesStore) enqueue(req persistRequest) {
	select {
	case ts.persistCh <- req:
	default:
		select {
		case dropped := <-ts.persistCh:
			ts.logger.Info("persist-queue-full-dropping-oldest", lager.Data{"droppedKind": int(dropped.kind)})
		default:
		}
		select {
		case ts.persistCh <- req:
		default:
			ts.logger.Info("persist-queue-full-dropping-request", lager.Data{"kind": int(req.kind)})
		}
	}
}

// Query returns snapshots with timestamps in the inclusive range
// [start, end], oldest first. It only reads the in-memory window; disk is
// for durability and restart, not range queries.
func (ts *TimeSeriesStore) Query(start, end int64) []*models.MetricSnapshot {
	entries := ts.ring.Query(start, end)
	result := make([]*models.MetricSnapshot, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.(*models.MetricSnapshot))
	}
	return result
}

// Snapshots returns the whole in-memory window, oldest first.
func (ts *TimeSeriesStore) Snapshots() []*models.MetricSnapshot {
	entries := ts.ring.All()
	result := make([]*models.MetricSnapshot, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.(*models.MetricSnapshot))
	}
	return result
}

func (ts *TimeSeriesStore) HistorySize() int {
	return ts.ring.Len()
}

// LoadRecent reconstructs the in-memory window from the last `days`
// day-partitions, oldest first, so the most recent entries win when the
// combined set exceeds the window capacity. Missing or corrupt partitions
// count as "no data for that day".
func (ts *TimeSeriesStore) LoadRecent(days int) {
	entries, err := os.ReadDir(filepath.Join(ts.dataDir, dailyDirName))
	if err != nil {
		ts.logger.Error("load-recent-read-dir", err)
		return
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		key := name[:len(name)-len(".json")]
		if _, err := time.Parse(partitionKeyLayout, key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > days {
		keys = keys[len(keys)-days:]
	}

	loaded := 0
	for _, key := range keys {
		snapshots, err := ts.readPartition(key)
		if err != nil {
			ts.logger.Error("load-recent-skip-partition", err, lager.Data{"partition": key})
			continue
		}
		for _, snapshot := range snapshots {
			ts.ring.Put(snapshot)
		}
		loaded += len(snapshots)
	}
	ts.logger.Info("load-recent-done", lager.Data{"partitions": len(keys), "snapshots": loaded, "historySize": ts.ring.Len()})
}

// Prune deletes day-partitions older than now - retentionDays. The in-memory
// window is self-limiting and is not pruned here.
func (ts *TimeSeriesStore) Prune(retentionDays int) {
	cutoff := ts.sclock.Now().UTC().AddDate(0, 0, -retentionDays).Format(partitionKeyLayout)

	entries, err := os.ReadDir(filepath.Join(ts.dataDir, dailyDirName))
	if err != nil {
		ts.logger.Error("prune-read-dir", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		key := name[:len(name)-len(".json")]
		if _, err := time.Parse(partitionKeyLayout, key); err != nil {
			continue
		}
		if key >= cutoff {
			continue
		}
		path := filepath.Join(ts.dataDir, dailyDirName, name)
		if err := os.Remove(path); err != nil {
			ts.logger.Error("prune-remove-partition", err, lager.Data{"partition": key})
			continue
		}
		ts.partitionLock.Lock()
		delete(ts.partitions, key)
		ts.partitionLock.Unlock()
		ts.logger.Info("pruned-partition", lager.Data{"partition": key})
	}
}

// SaveState writes monitor-state.json synchronously; it is called from
// Stop() where the flush must complete before the process exits.
func (ts *TimeSeriesStore) SaveState(state *models.MonitorState) error {
	path := filepath.Join(ts.dataDir, stateFileName)
	if err := ts.writeJSONFile(path, state); err != nil {
		ts.logger.Error("save-state", err)
		return err
	}
	return nil
}

// LoadAlerts reads the persisted alert log; a missing or corrupt file means
// an empty log.
func (ts *TimeSeriesStore) LoadAlerts() []models.Alert {
	body, err := os.ReadFile(filepath.Join(ts.dataDir, alertsDirName, alertsFileName))
	if err != nil {
		return nil
	}
	alerts := []models.Alert{}
	if err := json.Unmarshal(body, &alerts); err != nil {
		ts.logger.Error("load-alerts-unmarshal", err)
		return nil
	}
	return alerts
}

// LoadState reads monitor-state.json for a warm restart; a missing or
// corrupt file just means a cold start.
func (ts *TimeSeriesStore) LoadState() *models.MonitorState {
	body, err := os.ReadFile(filepath.Join(ts.dataDir, stateFileName))
	if err != nil {
		return nil
	}
	state := &models.MonitorState{}
	if err := json.Unmarshal(body, state); err != nil {
		ts.logger.Error("load-state-unmarshal", err)
		return nil
	}
	return state
}

func (ts *TimeSeriesStore) startPersistLoop() {
	for {
		select {
		case <-ts.doneChan:
			for {
				select {
				case req := <-ts.persistCh:
					ts.handle(req)
				default:
					close(ts.stopped)
					return
				}
			}
		case req := <-ts.persistCh:
			ts.handle(req)
		}
	}
}

func (ts *TimeSeriesStore) handle(req persistRequest) {
	switch req.kind {
	case persistSnapshot:
		ts.persistSnapshot(req.snapshot)
	case persistAlerts:
		ts.persistAlerts(req.alerts)
	}
}

func (ts *TimeSeriesStore) persistSnapshot(snapshot *models.MetricSnapshot) {
	key := time.UnixMilli(snapshot.Timestamp).UTC().Format(partitionKeyLayout)

	ts.partitionLock.Lock()
	day, ok := ts.partitions[key]
	if !ok {
		// first touch of this day: older partitions are never appended
		// again, so drop them from the cache
		for k := range ts.partitions {
			delete(ts.partitions, k)
		}
		loaded, err := ts.readPartition(key)
		if err == nil {
			day = loaded
		}
	}
	day = append(day, snapshot)
	ts.partitions[key] = day
	ts.partitionLock.Unlock()

	path := filepath.Join(ts.dataDir, dailyDirName, key+".json")
	if err := ts.writeJSONFile(path, day); err != nil {
		// availability over durability: the window already has the snapshot
		ts.logger.Error("persist-snapshot", err, lager.Data{"partition": key})
	}
}

func (ts *TimeSeriesStore) persistAlerts(alerts []models.Alert) {
	path := filepath.Join(ts.dataDir, alertsDirName, alertsFileName)
	if err := ts.writeJSONFile(path, alerts); err != nil {
		ts.logger.Error("persist-alerts", err)
	}
}

func (ts *TimeSeriesStore) readPartition(key string) ([]*models.MetricSnapshot, error) {
	body, err := os.ReadFile(filepath.Join(ts.dataDir, dailyDirName, key+".json"))
	if err != nil {
		return nil, err
	}
	snapshots := []*models.MetricSnapshot{}
	if err := json.Unmarshal(body, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (ts *TimeSeriesStore) writeJSONFile(path string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
