package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityClass(t *testing.T) {
	tests := []struct {
		name     string
		severity float64
		want     string
	}{
		{"critical upper bound", 10.0, SeverityClassCritical},
		{"critical lower bound", 9.0, SeverityClassCritical},
		{"high upper bound", 8.9, SeverityClassHigh},
		{"high lower bound", 7.0, SeverityClassHigh},
		{"medium upper bound", 6.9, SeverityClassMedium},
		{"medium lower bound", 4.0, SeverityClassMedium},
		{"low upper bound", 3.9, SeverityClassLow},
		{"low near zero", 0.1, SeverityClassLow},
		{"log sentinel", 0.0, SeverityClassLog},
		{"false positive sentinel", -1.0, SeverityClassFalsePositive},
		{"error sentinel", -3.0, SeverityClassError},
		{"above scale", 10.1, ""},
		{"unknown negative", -2.0, ""},
		{"missing sentinel", SeverityMissing, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityClass(tt.severity))
		})
	}
}

func TestSeverityValid(t *testing.T) {
	assert.True(t, SeverityValid(5.0))
	assert.True(t, SeverityValid(SeverityError))
	assert.False(t, SeverityValid(11.0))
	assert.False(t, SeverityValid(-2.5))
}

func TestTypeSeverity(t *testing.T) {
	assert.Equal(t, SeverityError, TypeSeverity(ResultTypeError))
	assert.Equal(t, SeverityLog, TypeSeverity(ResultTypeLog))
	assert.Equal(t, SeverityLog, TypeSeverity(ResultTypeAlarm))
}

func TestTaskStatusActive(t *testing.T) {
	active := []TaskStatus{
		TaskStatusRequested, TaskStatusQueued, TaskStatusRunning,
		TaskStatusProcessing, TaskStatusStopRequested, TaskStatusStopWaiting,
		TaskStatusDeleteRequested, TaskStatusUltimateDeleteRequested,
		TaskStatusDeleteWaiting, TaskStatusUltimateDeleteWaiting,
	}
	for _, s := range active {
		assert.True(t, s.Active(), "status %q should be active", s)
	}

	idle := []TaskStatus{TaskStatusNew, TaskStatusStopped, TaskStatusDone, TaskStatusInterrupted}
	for _, s := range idle {
		assert.False(t, s.Active(), "status %q should not be active", s)
	}
}

func TestScannerKindSensor(t *testing.T) {
	assert.True(t, ScannerKindOSPSensor.Sensor())
	assert.True(t, ScannerKindHTTPSensor.Sensor())
	assert.True(t, ScannerKindAgentSensor.Sensor())
	assert.False(t, ScannerKindOSP.Sensor())
	assert.False(t, ScannerKindCVE.Sensor())
}
