package storage

import (
	"errors"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

// ErrNotFound is wrapped by every lookup that misses, so callers can
// distinguish absence from storage failure with errors.Is.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store defines the persistence contract every controller component
// programs against. The bbolt implementation is the only one shipped;
// tests use it on a temp directory.
//
// Writes are atomic: a reader never observes a half-applied mutation.
// Results are ordered by insertion within their report, and a report's
// results are always visible before any status that announces them.
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	TaskStatus(id string) (types.TaskStatus, error)
	// SetTaskStatus publishes a status atomically. When the task has a
	// current report the report's run status moves with it in the same
	// transaction, so readers never observe the pair out of step.
	SetTaskStatus(id string, status types.TaskStatus) error
	// CreateCurrentReport stores a fresh report, binds it as the task's
	// current report and moves the task to the report's run status in
	// one transaction.
	CreateCurrentReport(taskID string, report *types.Report) error
	// PromoteCurrentReport moves the current report to the last-report
	// slot after a finished run. Stopped and interrupted runs keep the
	// current pointer so a resume can find the report.
	PromoteCurrentReport(taskID string) error
	TrashTask(id string) error
	PurgeTask(id string) error
	ForEachTaskSchedule(fn func(ts *types.TaskSchedule) error) error
	// SetTaskSchedule advances the schedule fields alone, so it cannot
	// clobber a status the worker publishes concurrently.
	SetTaskSchedule(id string, next time.Time, periods int, scheduleID string) error

	// Reports
	CreateReport(report *types.Report) error
	GetReport(id string) (*types.Report, error)
	ListTaskReports(taskID string) ([]*types.Report, error)
	UpdateReport(report *types.Report) error
	DeleteReport(id string) error
	SetReportRunStatus(id string, status types.TaskStatus) error
	// SetReportScanID records the scanner-side id without touching the
	// run status, which may move concurrently with the worker.
	SetReportScanID(id, scanID string) error
	SetScanStartTime(id string, t time.Time) error
	SetScanEndTime(id string, t time.Time) error
	TrimPartialReport(id string) error
	ReportsAwaitingProcessing(limit int) ([]*types.Report, error)
	CountReportHosts(id string) (int, error)
	CountResults(id string) (int, error)
	MaxReportSeverity(id string) (float64, error)
	FinishedHosts(id string) ([]string, error)

	// Results
	AppendResult(result *types.Result) error
	ForEachResult(reportID string, fn func(r *types.Result) error) error

	// Report hosts
	SetReportHostStart(reportID, host string, t time.Time) error
	SetReportHostEnd(reportID, host string, t time.Time) error
	ForEachReportHost(reportID string, fn func(rh *types.ReportHost) error) error
	LastReportHost(host string) (*types.ReportHost, error)

	// Host details
	AddHostDetail(detail *types.HostDetail) error
	HostDetails(reportID, host, name string) ([]string, error)

	// Scan queue
	ScanQueueAdd(entry *types.ScanQueueEntry) error
	ScanQueueTake(limit int) ([]*types.ScanQueueEntry, error)
	ScanQueueRemove(taskID string) error
	ScanQueueList() ([]*types.ScanQueueEntry, error)

	// Targets
	CreateTarget(target *types.Target) error
	GetTarget(id string) (*types.Target, error)
	ListTargets() ([]*types.Target, error)
	DeleteTarget(id string) error

	// Credentials
	CreateCredential(cred *types.Credential) error
	GetCredential(id string) (*types.Credential, error)
	DeleteCredential(id string) error

	// Scanners
	CreateScanner(scanner *types.Scanner) error
	GetScanner(id string) (*types.Scanner, error)
	ListScanners() ([]*types.Scanner, error)
	UpdateScanner(scanner *types.Scanner) error
	DeleteScanner(id string) error

	// Scan configs
	CreateScanConfig(cfg *types.ScanConfig) error
	GetScanConfig(id string) (*types.ScanConfig, error)
	DeleteScanConfig(id string) error

	// Schedules
	CreateSchedule(schedule *types.Schedule) error
	GetSchedule(id string) (*types.Schedule, error)
	DeleteSchedule(id string) error

	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	ListUsers() ([]*types.User, error)

	// VT metadata, replaced wholesale by feed sync
	ReplaceVTs(vts []*types.VT) error
	GetVT(oid string) (*types.VT, error)
	CountVTs() (int, error)
	ForEachVT(fn func(vt *types.VT) error) error

	// CVE correlation map, replaced wholesale by SCAP sync
	ReplaceCVEItems(items []*types.CVEItem) error
	ForEachCVEItem(fn func(item *types.CVEItem) error) error

	// Host identifiers distilled from completed reports
	AddHostIdentifier(ident *types.HostIdentifier) error
	HostIdentifiers(host string) ([]*types.HostIdentifier, error)

	// Agent groups
	CreateAgentGroup(group *types.AgentGroup) error
	GetAgentGroup(id string) (*types.AgentGroup, error)

	// Settings and feed markers
	GetSetting(name string) (string, error)
	SetSetting(name, value string) error
	FeedSyncedAt(feed types.FeedType) (time.Time, error)
	SetFeedSyncedAt(feed types.FeedType, t time.Time) error

	// Utility
	Close() error
}
