package nmea

import "time"

// Quality is the GGA fix-quality indicator.
type Quality int

const (
	QualityNoFix        Quality = 0
	QualityAutonomous   Quality = 1
	QualityDifferential Quality = 2
	QualityRTKFixed     Quality = 4
	QualityRTKFloat     Quality = 5
)

func (q Quality) String() string {
	switch q {
	case QualityNoFix:
		return "none"
	case QualityAutonomous:
		return "autonomous"
	case QualityDifferential:
		return "differential"
	case QualityRTKFixed:
		return "rtk-fixed"
	case QualityRTKFloat:
		return "rtk-float"
	default:
		return "unknown"
	}
}

// Fix is a single decoded position. Timestamp is the wall-clock capture time,
// not the sentence's UTC field; receiver clocks are not assumed to be synced.
//
// A Fix is never mutated after Parse returns it.
type Fix struct {
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Quality    Quality   `json:"quality"`
	Satellites int       `json:"satellites"`
	HDOP       float64   `json:"hdop"`
	RawNMEA    string    `json:"raw_nmea"`
}
