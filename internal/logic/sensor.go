package logic

// SensorState is the state of the acquisition task.
type SensorState int

const (
	SensorAwaitInit SensorState = iota
	SensorAwaitDateTime
	SensorAwaitCommand
	SensorCalibrating
	SensorAwaitCalibrationWeight
	SensorAwaitScheduleConfig
	SensorMeasuring
)

func (s SensorState) String() string {
	switch s {
	case SensorAwaitInit:
		return "await_init"
	case SensorAwaitDateTime:
		return "await_datetime"
	case SensorAwaitCommand:
		return "await_command"
	case SensorCalibrating:
		return "calibrating"
	case SensorAwaitCalibrationWeight:
		return "await_calibration_weight"
	case SensorAwaitScheduleConfig:
		return "await_schedule_config"
	case SensorMeasuring:
		return "measuring"
	default:
		return "unknown"
	}
}

// Waiting reports whether the state only waits for an operator.
func (s SensorState) Waiting() bool {
	switch s {
	case SensorAwaitDateTime, SensorAwaitCommand, SensorAwaitCalibrationWeight, SensorAwaitScheduleConfig:
		return true
	}
	return false
}

// SensorInputs is the subset of the shared state the acquisition task
// decides on.
type SensorInputs struct {
	SystemReady               bool
	Online                    bool
	AwaitingDateTime          bool
	AwaitingCommand           bool
	CalibrationRequested      bool
	CalibrationOffsetDone     bool
	AwaitingCalibrationWeight bool
	AwaitingSchedule          bool
	AwaitingSamplingInterval  bool
}

// NextSensorState picks the acquisition state by priority. While offline
// no operator can answer, so the task keeps measuring.
func NextSensorState(in SensorInputs) SensorState {
	switch {
	case !in.SystemReady:
		return SensorAwaitInit
	case !in.Online:
		return SensorMeasuring
	case in.AwaitingDateTime:
		return SensorAwaitDateTime
	case in.AwaitingCommand:
		return SensorAwaitCommand
	case in.CalibrationRequested && !in.CalibrationOffsetDone:
		return SensorCalibrating
	case in.AwaitingCalibrationWeight:
		return SensorAwaitCalibrationWeight
	case in.AwaitingSchedule || in.AwaitingSamplingInterval:
		return SensorAwaitScheduleConfig
	default:
		return SensorMeasuring
	}
}
