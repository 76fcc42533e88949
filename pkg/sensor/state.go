package sensor

// State is the lifecycle state of a Connection.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	DiscoveringServices
	SubscribingNotifications
	Connected
	Disconnected
	Reconnecting
	Failed
)

var stateNames = [...]string{
	Idle:                     "idle",
	Scanning:                 "scanning",
	Connecting:               "connecting",
	DiscoveringServices:      "discovering_services",
	SubscribingNotifications: "subscribing_notifications",
	Connected:                "connected",
	Disconnected:             "disconnected",
	Reconnecting:             "reconnecting",
	Failed:                   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Callbacks receives connection events. Every method must be implemented;
// they are invoked without any Connection lock held.
type Callbacks interface {
	OnStatusUpdate(message string)
	OnMeasurement(value int)
	OnDisconnected()
}

// StatusSink mirrors connection status and device name into a presentation
// layer. It is optional.
type StatusSink interface {
	SetConnectionStatus(status string)
	SetDeviceName(name string)
}
