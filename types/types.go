package types

// ---- Common application state (retained) ----

// AppState is the coarse firmware state, shown on the status LED.
type AppState string

const (
	StateBooting     AppState = "booting"
	StateAdvertising AppState = "advertising"
	StateIdle        AppState = "idle" // neither advertising nor connected
	StateConnected   AppState = "connected"
	StateStreaming   AppState = "streaming"
	StateFailed      AppState = "failed"
)

type AppStatus struct {
	State AppState `json:"state"`
	Error string   `json:"error,omitempty"` // short code when failed
	TS    int64    `json:"ts_ms"`
}

// ---- IMU service events ----

// IMUChar names a characteristic of the IMU GATT service.
type IMUChar uint8

const (
	CharQuaternion IMUChar = iota
	CharAccel
	CharGyro
	CharRate
	CharStatus
)

func (c IMUChar) String() string {
	switch c {
	case CharQuaternion:
		return "quaternion"
	case CharAccel:
		return "accel"
	case CharGyro:
		return "gyro"
	case CharRate:
		return "rate"
	case CharStatus:
		return "status"
	}
	return "unknown"
}

type IMUEventKind uint8

const (
	IMUConnected IMUEventKind = iota + 1
	IMUDisconnected
	IMUNotifyEnabled
	IMUNotifyDisabled
	IMURateChanged
	IMUTxComplete
)

func (k IMUEventKind) String() string {
	switch k {
	case IMUConnected:
		return "connected"
	case IMUDisconnected:
		return "disconnected"
	case IMUNotifyEnabled:
		return "notify-enabled"
	case IMUNotifyDisabled:
		return "notify-disabled"
	case IMURateChanged:
		return "rate-changed"
	case IMUTxComplete:
		return "tx-complete"
	}
	return "unknown"
}

// IMUServiceEvent is published when the host changes something.
type IMUServiceEvent struct {
	Kind   IMUEventKind
	Char   IMUChar
	Conn   uint16
	RateMs uint16 // IMURateChanged
	Count  uint8  // IMUTxComplete
}

// ---- Advertising events ----

type AdvMode uint8

const (
	AdvIdle AdvMode = iota
	AdvFast
	AdvSlow
)

func (m AdvMode) String() string {
	switch m {
	case AdvIdle:
		return "idle"
	case AdvFast:
		return "fast"
	case AdvSlow:
		return "slow"
	}
	return "unknown"
}

type AdvEventKind uint8

const (
	AdvStarted AdvEventKind = iota + 1
	AdvStopped
	AdvFastTimeout
	AdvSlowTimeout
	AdvConnected
)

func (k AdvEventKind) String() string {
	switch k {
	case AdvStarted:
		return "started"
	case AdvStopped:
		return "stopped"
	case AdvFastTimeout:
		return "fast-timeout"
	case AdvSlowTimeout:
		return "slow-timeout"
	case AdvConnected:
		return "connected"
	}
	return "unknown"
}

type AdvEvent struct {
	Kind AdvEventKind
	Mode AdvMode // mode after the transition
}

// ---- IMU samples ----

// IMUSample is the subset of the sensor cache the app streams.
type IMUSample struct {
	Report uint8      `json:"report"`
	Quat   [4]float32 `json:"quat"` // i, j, k, real
	Accel  [3]float32 `json:"accel"`
	Gyro   [3]float32 `json:"gyro"`
	TS     int64      `json:"ts_ms"`
}
