package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks       = []byte("tasks")
	bucketReports     = []byte("reports")
	bucketResults     = []byte("results")      // sub-bucket per report
	bucketReportHosts = []byte("report_hosts") // sub-bucket per report
	bucketHostDetails = []byte("host_details") // sub-bucket per report
	bucketScanQueue   = []byte("scan_queue")
	bucketTargets     = []byte("targets")
	bucketCredentials = []byte("credentials")
	bucketScanners    = []byte("scanners")
	bucketScanConfigs = []byte("scan_configs")
	bucketSchedules   = []byte("schedules")
	bucketAgentGroups = []byte("agent_groups")
	bucketUsers       = []byte("users")
	bucketVTs         = []byte("vts")
	bucketCVEs        = []byte("cves")
	bucketIdentifiers = []byte("host_identifiers") // sub-bucket per host
	bucketSettings    = []byte("settings")
)

// BoltStore implements Store using bbolt
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vigil.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketReports,
			bucketResults,
			bucketReportHosts,
			bucketHostDetails,
			bucketScanQueue,
			bucketTargets,
			bucketCredentials,
			bucketScanners,
			bucketScanConfigs,
			bucketSchedules,
			bucketAgentGroups,
			bucketUsers,
			bucketVTs,
			bucketCVEs,
			bucketIdentifiers,
			bucketSettings,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// seqKey renders a bucket sequence number as a sortable fixed-width key
func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%012d", seq))
}

// Task operations

func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Hidden != 0 {
				return nil
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	task.UpdatedAt = time.Now()
	return s.CreateTask(task)
}

func (s *BoltStore) TaskStatus(id string) (types.TaskStatus, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// SetTaskStatus publishes a status change in a single transaction, so
// observers see either the old or the new status, never a torn task.
func (s *BoltStore) SetTaskStatus(id string, status types.TaskStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Status = status
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), out); err != nil {
			return err
		}
		if task.CurrentReportID == "" {
			return nil
		}
		// The current report's run status moves in the same transaction.
		rb := tx.Bucket(bucketReports)
		rdata := rb.Get([]byte(task.CurrentReportID))
		if rdata == nil {
			return fmt.Errorf("task %s current report %s: %w", id, task.CurrentReportID, ErrNotFound)
		}
		var report types.Report
		if err := json.Unmarshal(rdata, &report); err != nil {
			return err
		}
		report.RunStatus = status
		rout, err := json.Marshal(&report)
		if err != nil {
			return err
		}
		return rb.Put([]byte(task.CurrentReportID), rout)
	})
}

func (s *BoltStore) CreateCurrentReport(taskID string, report *types.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		data := tb.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		out, err := json.Marshal(report)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketReports).Put([]byte(report.ID), out); err != nil {
			return err
		}
		task.CurrentReportID = report.ID
		task.Status = report.RunStatus
		task.UpdatedAt = time.Now()
		tdata, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return tb.Put([]byte(taskID), tdata)
	})
}

func (s *BoltStore) PromoteCurrentReport(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if task.CurrentReportID == "" {
			return nil
		}
		task.LastReportID = task.CurrentReportID
		task.CurrentReportID = ""
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put([]byte(taskID), out)
	})
}

// TrashTask hides the task, keeping its reports for a later restore or
// purge. The scan queue entry, if any, goes with it.
func (s *BoltStore) TrashTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Hidden = 2
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), out); err != nil {
			return err
		}
		return removeQueueEntry(tx, id)
	})
}

// PurgeTask removes the task and every report, result and host row
// that belongs to it, atomically with its queue entry.
func (s *BoltStore) PurgeTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket(bucketReports)
		c := reports.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var report types.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return err
			}
			if report.TaskID != id {
				continue
			}
			if err := deleteReportData(tx, report.ID); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		if err := removeQueueEntry(tx, id); err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// ForEachTaskSchedule yields every visible task bound to a schedule,
// joined with the schedule fields the scheduler needs. The snapshot is
// taken under one read transaction.
func (s *BoltStore) ForEachTaskSchedule(fn func(ts *types.TaskSchedule) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		schedules := tx.Bucket(bucketSchedules)
		return tasks.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Hidden != 0 || task.ScheduleID == "" {
				return nil
			}
			sdata := schedules.Get([]byte(task.ScheduleID))
			if sdata == nil {
				// Schedule deleted from under the task; skip silently,
				// the task keeps its binding until edited.
				return nil
			}
			var schedule types.Schedule
			if err := json.Unmarshal(sdata, &schedule); err != nil {
				return err
			}
			return fn(&types.TaskSchedule{
				TaskID:     task.ID,
				Owner:      task.Owner,
				ScheduleID: schedule.ID,
				NextTime:   task.ScheduleNext,
				Periods:    task.SchedulePeriods,
				Duration:   schedule.Duration,
				ICalendar:  schedule.ICalendar,
				Timezone:   schedule.Timezone,
			})
		})
	})
}

// SetTaskSchedule writes the schedule fields without touching the rest
// of the task, which a worker may be mutating concurrently.
func (s *BoltStore) SetTaskSchedule(id string, next time.Time, periods int, scheduleID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.ScheduleNext = next
		task.SchedulePeriods = periods
		task.ScheduleID = scheduleID
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// Report operations

func (s *BoltStore) CreateReport(report *types.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		return b.Put([]byte(report.ID), data)
	})
}

func (s *BoltStore) GetReport(id string) (*types.Report, error) {
	var report types.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *BoltStore) ListTaskReports(taskID string) ([]*types.Report, error) {
	var reports []*types.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		return b.ForEach(func(k, v []byte) error {
			var report types.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return err
			}
			if report.TaskID == taskID {
				reports = append(reports, &report)
			}
			return nil
		})
	})
	return reports, err
}

func (s *BoltStore) UpdateReport(report *types.Report) error {
	return s.CreateReport(report)
}

func (s *BoltStore) DeleteReport(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteReportData(tx, id); err != nil {
			return err
		}
		return tx.Bucket(bucketReports).Delete([]byte(id))
	})
}

// deleteReportData drops the result, report-host and host-detail
// sub-buckets of a report.
func deleteReportData(tx *bolt.Tx, reportID string) error {
	for _, parent := range [][]byte{bucketResults, bucketReportHosts, bucketHostDetails} {
		b := tx.Bucket(parent)
		if b.Bucket([]byte(reportID)) == nil {
			continue
		}
		if err := b.DeleteBucket([]byte(reportID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) SetReportRunStatus(id string, status types.TaskStatus) error {
	return s.updateReport(id, func(r *types.Report) {
		r.RunStatus = status
	})
}

func (s *BoltStore) SetReportScanID(id, scanID string) error {
	return s.updateReport(id, func(r *types.Report) {
		r.ScanID = scanID
	})
}

func (s *BoltStore) SetScanStartTime(id string, t time.Time) error {
	return s.updateReport(id, func(r *types.Report) {
		r.StartTime = t
	})
}

func (s *BoltStore) SetScanEndTime(id string, t time.Time) error {
	return s.updateReport(id, func(r *types.Report) {
		r.EndTime = t
	})
}

func (s *BoltStore) updateReport(id string, mut func(*types.Report)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		var report types.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return err
		}
		mut(&report)
		out, err := json.Marshal(&report)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// TrimPartialReport removes the rows of hosts the scan never finished:
// their results, details and report-host entries. Finished hosts keep
// everything, which is what makes resumed scans additive.
func (s *BoltStore) TrimPartialReport(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		hosts := tx.Bucket(bucketReportHosts).Bucket([]byte(id))
		if hosts == nil {
			return nil
		}

		unfinished := make(map[string]bool)
		c := hosts.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rh types.ReportHost
			if err := json.Unmarshal(v, &rh); err != nil {
				return err
			}
			if rh.EndTime.IsZero() {
				unfinished[rh.Host] = true
			}
		}
		if len(unfinished) == 0 {
			return nil
		}

		if results := tx.Bucket(bucketResults).Bucket([]byte(id)); results != nil {
			rc := results.Cursor()
			for k, v := rc.First(); k != nil; k, v = rc.Next() {
				var res types.Result
				if err := json.Unmarshal(v, &res); err != nil {
					return err
				}
				if unfinished[res.Host] {
					if err := rc.Delete(); err != nil {
						return err
					}
				}
			}
		}

		if details := tx.Bucket(bucketHostDetails).Bucket([]byte(id)); details != nil {
			dc := details.Cursor()
			for k, v := dc.First(); k != nil; k, v = dc.Next() {
				var d types.HostDetail
				if err := json.Unmarshal(v, &d); err != nil {
					return err
				}
				if unfinished[d.Host] {
					if err := dc.Delete(); err != nil {
						return err
					}
				}
			}
		}

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rh types.ReportHost
			if err := json.Unmarshal(v, &rh); err != nil {
				return err
			}
			if unfinished[rh.Host] {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) ReportsAwaitingProcessing(limit int) ([]*types.Report, error) {
	var reports []*types.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		return b.ForEach(func(k, v []byte) error {
			if limit > 0 && len(reports) >= limit {
				return nil
			}
			var report types.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return err
			}
			if report.RunStatus == types.TaskStatusProcessing {
				reports = append(reports, &report)
			}
			return nil
		})
	})
	return reports, err
}

func (s *BoltStore) CountReportHosts(id string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReportHosts).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

func (s *BoltStore) CountResults(id string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// MaxReportSeverity returns the highest result severity of the report,
// or SeverityMissing when it has no results.
func (s *BoltStore) MaxReportSeverity(id string) (float64, error) {
	maxSeverity := types.SeverityMissing
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var res types.Result
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			if res.Severity > maxSeverity {
				maxSeverity = res.Severity
			}
			return nil
		})
	})
	return maxSeverity, err
}

// FinishedHosts lists the hosts of a report whose scan completed, used
// as the exclude list when the scan is resumed.
func (s *BoltStore) FinishedHosts(id string) ([]string, error) {
	var hosts []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReportHosts).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rh types.ReportHost
			if err := json.Unmarshal(v, &rh); err != nil {
				return err
			}
			if !rh.EndTime.IsZero() {
				hosts = append(hosts, rh.Host)
			}
			return nil
		})
	})
	return hosts, err
}

// Result operations

// AppendResult stores a result under its report, keyed by the bucket
// sequence so iteration order is insertion order.
func (s *BoltStore) AppendResult(result *types.Result) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketResults)
		b, err := parent.CreateBucketIfNotExists([]byte(result.ReportID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *BoltStore) ForEachResult(reportID string, fn func(r *types.Result) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(reportID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var res types.Result
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			return fn(&res)
		})
	})
}

// Report host operations

func (s *BoltStore) SetReportHostStart(reportID, host string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketReportHosts).CreateBucketIfNotExists([]byte(reportID))
		if err != nil {
			return err
		}
		rh := types.ReportHost{ReportID: reportID, Host: host, StartTime: t}
		if data := b.Get([]byte(host)); data != nil {
			if err := json.Unmarshal(data, &rh); err != nil {
				return err
			}
			rh.StartTime = t
		}
		data, err := json.Marshal(&rh)
		if err != nil {
			return err
		}
		return b.Put([]byte(host), data)
	})
}

func (s *BoltStore) SetReportHostEnd(reportID, host string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketReportHosts).CreateBucketIfNotExists([]byte(reportID))
		if err != nil {
			return err
		}
		rh := types.ReportHost{ReportID: reportID, Host: host}
		if data := b.Get([]byte(host)); data != nil {
			if err := json.Unmarshal(data, &rh); err != nil {
				return err
			}
		}
		rh.EndTime = t
		data, err := json.Marshal(&rh)
		if err != nil {
			return err
		}
		return b.Put([]byte(host), data)
	})
}

func (s *BoltStore) ForEachReportHost(reportID string, fn func(rh *types.ReportHost) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReportHosts).Bucket([]byte(reportID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rh types.ReportHost
			if err := json.Unmarshal(v, &rh); err != nil {
				return err
			}
			return fn(&rh)
		})
	})
}

// LastReportHost finds the most recent finished report-host row for a
// host across all reports: latest end time wins, ties go to the later
// report row.
func (s *BoltStore) LastReportHost(host string) (*types.ReportHost, error) {
	var last *types.ReportHost
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketReportHosts)
		return parent.ForEachBucket(func(k []byte) error {
			b := parent.Bucket(k)
			data := b.Get([]byte(host))
			if data == nil {
				return nil
			}
			var rh types.ReportHost
			if err := json.Unmarshal(data, &rh); err != nil {
				return err
			}
			if rh.EndTime.IsZero() {
				return nil
			}
			if last == nil || rh.EndTime.After(last.EndTime) ||
				(rh.EndTime.Equal(last.EndTime) && rh.ReportID > last.ReportID) {
				last = &rh
			}
			return nil
		})
	})
	return last, err
}

// Host detail operations

func (s *BoltStore) AddHostDetail(detail *types.HostDetail) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketHostDetails).CreateBucketIfNotExists([]byte(detail.ReportID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// HostDetails returns the values of every detail matching the report,
// host and detail name, e.g. the "App" CPE rows of one host.
func (s *BoltStore) HostDetails(reportID, host, name string) ([]string, error) {
	var values []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostDetails).Bucket([]byte(reportID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var d types.HostDetail
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.Host == host && d.Name == name {
				values = append(values, d.Value)
			}
			return nil
		})
	})
	return values, err
}

// Scan queue operations

func (s *BoltStore) ScanQueueAdd(entry *types.ScanQueueEntry) error {
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// ScanQueueTake removes and returns up to limit entries from the head
// of the queue in one transaction. A limit of 0 or less takes all.
func (s *BoltStore) ScanQueueTake(limit int) ([]*types.ScanQueueEntry, error) {
	var entries []*types.ScanQueueEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanQueue)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry types.ScanQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) ScanQueueRemove(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return removeQueueEntry(tx, taskID)
	})
}

func removeQueueEntry(tx *bolt.Tx, taskID string) error {
	b := tx.Bucket(bucketScanQueue)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var entry types.ScanQueueEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		if entry.TaskID == taskID {
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *BoltStore) ScanQueueList() ([]*types.ScanQueueEntry, error) {
	var entries []*types.ScanQueueEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanQueue)
		return b.ForEach(func(k, v []byte) error {
			var entry types.ScanQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

// Target operations

func (s *BoltStore) CreateTarget(target *types.Target) error {
	return s.putJSON(bucketTargets, target.ID, target)
}

func (s *BoltStore) GetTarget(id string) (*types.Target, error) {
	var target types.Target
	if err := s.getJSON(bucketTargets, id, &target, "target"); err != nil {
		return nil, err
	}
	return &target, nil
}

func (s *BoltStore) ListTargets() ([]*types.Target, error) {
	var targets []*types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		return b.ForEach(func(k, v []byte) error {
			var target types.Target
			if err := json.Unmarshal(v, &target); err != nil {
				return err
			}
			targets = append(targets, &target)
			return nil
		})
	})
	return targets, err
}

func (s *BoltStore) DeleteTarget(id string) error {
	return s.deleteKey(bucketTargets, id)
}

// Credential operations

func (s *BoltStore) CreateCredential(cred *types.Credential) error {
	return s.putJSON(bucketCredentials, cred.ID, cred)
}

func (s *BoltStore) GetCredential(id string) (*types.Credential, error) {
	var cred types.Credential
	if err := s.getJSON(bucketCredentials, id, &cred, "credential"); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *BoltStore) DeleteCredential(id string) error {
	return s.deleteKey(bucketCredentials, id)
}

// Scanner operations

func (s *BoltStore) CreateScanner(scanner *types.Scanner) error {
	return s.putJSON(bucketScanners, scanner.ID, scanner)
}

func (s *BoltStore) GetScanner(id string) (*types.Scanner, error) {
	var scanner types.Scanner
	if err := s.getJSON(bucketScanners, id, &scanner, "scanner"); err != nil {
		return nil, err
	}
	return &scanner, nil
}

func (s *BoltStore) ListScanners() ([]*types.Scanner, error) {
	var scanners []*types.Scanner
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanners)
		return b.ForEach(func(k, v []byte) error {
			var scanner types.Scanner
			if err := json.Unmarshal(v, &scanner); err != nil {
				return err
			}
			scanners = append(scanners, &scanner)
			return nil
		})
	})
	return scanners, err
}

func (s *BoltStore) UpdateScanner(scanner *types.Scanner) error {
	return s.CreateScanner(scanner)
}

func (s *BoltStore) DeleteScanner(id string) error {
	return s.deleteKey(bucketScanners, id)
}

// Scan config operations

func (s *BoltStore) CreateScanConfig(cfg *types.ScanConfig) error {
	return s.putJSON(bucketScanConfigs, cfg.ID, cfg)
}

func (s *BoltStore) GetScanConfig(id string) (*types.ScanConfig, error) {
	var cfg types.ScanConfig
	if err := s.getJSON(bucketScanConfigs, id, &cfg, "scan config"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) DeleteScanConfig(id string) error {
	return s.deleteKey(bucketScanConfigs, id)
}

// Schedule operations

func (s *BoltStore) CreateSchedule(schedule *types.Schedule) error {
	return s.putJSON(bucketSchedules, schedule.ID, schedule)
}

func (s *BoltStore) GetSchedule(id string) (*types.Schedule, error) {
	var schedule types.Schedule
	if err := s.getJSON(bucketSchedules, id, &schedule, "schedule"); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *BoltStore) DeleteSchedule(id string) error {
	return s.deleteKey(bucketSchedules, id)
}

// Agent group operations

func (s *BoltStore) CreateAgentGroup(group *types.AgentGroup) error {
	return s.putJSON(bucketAgentGroups, group.ID, group)
}

func (s *BoltStore) GetAgentGroup(id string) (*types.AgentGroup, error) {
	var group types.AgentGroup
	if err := s.getJSON(bucketAgentGroups, id, &group, "agent group"); err != nil {
		return nil, err
	}
	return &group, nil
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.putJSON(bucketUsers, user.ID, user)
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	if err := s.getJSON(bucketUsers, id, &user, "user"); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// VT metadata operations

// ReplaceVTs swaps the whole VT bucket for the given set in one
// transaction, so readers see either the old feed or the new one.
func (s *BoltStore) ReplaceVTs(vts []*types.VT) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketVTs); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketVTs)
		if err != nil {
			return err
		}
		for _, vt := range vts {
			data, err := json.Marshal(vt)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(vt.OID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetVT(oid string) (*types.VT, error) {
	var vt types.VT
	if err := s.getJSON(bucketVTs, oid, &vt, "vt"); err != nil {
		return nil, err
	}
	return &vt, nil
}

func (s *BoltStore) CountVTs() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketVTs).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) ForEachVT(fn func(vt *types.VT) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVTs).ForEach(func(k, v []byte) error {
			var vt types.VT
			if err := json.Unmarshal(v, &vt); err != nil {
				return err
			}
			return fn(&vt)
		})
	})
}

// CVE map operations

func (s *BoltStore) ReplaceCVEItems(items []*types.CVEItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCVEs); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketCVEs)
		if err != nil {
			return err
		}
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ForEachCVEItem(fn func(item *types.CVEItem) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCVEs).ForEach(func(k, v []byte) error {
			var item types.CVEItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			return fn(&item)
		})
	})
}

// Host identifier operations

func (s *BoltStore) AddHostIdentifier(ident *types.HostIdentifier) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketIdentifiers).CreateBucketIfNotExists([]byte(ident.Host))
		if err != nil {
			return err
		}
		data, err := json.Marshal(ident)
		if err != nil {
			return err
		}
		// One row per identifier name; a newer report overwrites.
		return b.Put([]byte(ident.Name), data)
	})
}

func (s *BoltStore) HostIdentifiers(host string) ([]*types.HostIdentifier, error) {
	var idents []*types.HostIdentifier
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentifiers).Bucket([]byte(host))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ident types.HostIdentifier
			if err := json.Unmarshal(v, &ident); err != nil {
				return err
			}
			idents = append(idents, &ident)
			return nil
		})
	})
	return idents, err
}

// Settings and feed markers

func (s *BoltStore) GetSetting(name string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("setting %s: %w", name, ErrNotFound)
		}
		value = string(data)
		return nil
	})
	return value, err
}

func (s *BoltStore) SetSetting(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(name), []byte(value))
	})
}

func (s *BoltStore) FeedSyncedAt(feed types.FeedType) (time.Time, error) {
	value, err := s.GetSetting("feed-synced-" + string(feed))
	if err != nil {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad feed marker for %s: %w", feed, err)
	}
	return t, nil
}

func (s *BoltStore) SetFeedSyncedAt(feed types.FeedType, t time.Time) error {
	return s.SetSetting("feed-synced-"+string(feed), t.UTC().Format(time.RFC3339))
}

// Shared helpers

func (s *BoltStore) putJSON(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) getJSON(bucket []byte, key string, v interface{}, kind string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) deleteKey(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}
