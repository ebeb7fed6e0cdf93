package nmea

import (
	"fmt"
	"math"
	"time"
)

// EncodeGGA builds the GGA heartbeat sentence the correction caster expects,
// from the most recent fix. The UTC time field is taken from now, not from
// the fix, so a cached fix still produces a current-looking heartbeat.
//
// The result includes the trailing checksum and CRLF.
func EncodeGGA(fix Fix, now time.Time) string {
	lat := math.Abs(fix.Latitude)
	latDeg := int(lat)
	latMin := (lat - float64(latDeg)) * 60
	latDir := "N"
	if fix.Latitude < 0 {
		latDir = "S"
	}

	lon := math.Abs(fix.Longitude)
	lonDeg := int(lon)
	lonMin := (lon - float64(lonDeg)) * 60
	lonDir := "E"
	if fix.Longitude < 0 {
		lonDir = "W"
	}

	utc := now.UTC()
	payload := fmt.Sprintf("GNGGA,%02d%02d%02d.000,%02d%08.5f,%s,%03d%08.5f,%s,%d,%02d,%.2f,%.1f,M,-3.6,M,,",
		utc.Hour(), utc.Minute(), utc.Second(),
		latDeg, latMin, latDir,
		lonDeg, lonMin, lonDir,
		int(fix.Quality), fix.Satellites, fix.HDOP, fix.Altitude)

	return fmt.Sprintf("$%s*%02X\r\n", payload, Checksum(payload))
}
