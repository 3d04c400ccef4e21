package bsblan

import "fmt"

// State is the position of the sync loop in its cycle.
type State int32

// Cycle states in execution order.
const (
	StateIdle State = iota
	StateUpdateInfo
	StateDetectNew
	StateFetchCategories
	StateCreateObjects
	StateFetchValues
	StatePublishValues
	StateFetchAverages
	StatePublishAverages
	StateScheduleNext
	StateError
)

var stateNames = [...]string{
	StateIdle:            "IDLE",
	StateUpdateInfo:      "UPDATE_INFO",
	StateDetectNew:       "DETECT_NEW",
	StateFetchCategories: "FETCH_CATEGORIES",
	StateCreateObjects:   "CREATE_OBJECTS",
	StateFetchValues:     "FETCH_VALUES",
	StatePublishValues:   "PUBLISH_VALUES",
	StateFetchAverages:   "FETCH_AVERAGES",
	StatePublishAverages: "PUBLISH_AVERAGES",
	StateScheduleNext:    "SCHEDULE_NEXT",
	StateError:           "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownState, text)
}
