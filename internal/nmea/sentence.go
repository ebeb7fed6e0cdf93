// Package nmea decodes NMEA 0183 position sentences into Fix values and
// encodes GGA heartbeat sentences for the correction session.
package nmea

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the recognized sentence types. The set is closed: anything
// that is not GGA or RMC decodes to KindIgnored without error.
type Kind int

const (
	KindIgnored Kind = iota
	KindGGA
	KindRMC
)

// ErrChecksum is wrapped by Parse when a sentence fails checksum validation.
var ErrChecksum = fmt.Errorf("nmea: checksum mismatch")

// Parse validates line and extracts a position fix from it.
//
// A GGA sentence with a verified checksum yields a full Fix. A valid RMC
// sentence yields a position-only Fix (no altitude, satellites or HDOP).
// Recognized-but-unused and unknown sentence types return (nil, KindIgnored,
// nil). A corrupt sentence never yields a partial fix: checksum mismatches
// and unparsable numeric fields discard the whole line with an error.
//
// Missing (empty) numeric fields default to zero, which matches what
// receivers emit while still acquiring.
func Parse(line string, now time.Time) (*Fix, Kind, error) {
	line = strings.TrimSpace(line)
	payload, err := verify(line)
	if err != nil {
		return nil, KindIgnored, err
	}

	fields := strings.Split(payload, ",")
	typeField := fields[0]
	if len(typeField) < 3 {
		return nil, KindIgnored, fmt.Errorf("nmea: short type %q", typeField)
	}
	// Talker IDs vary (GP, GN, GB, ...); the last 3 chars name the type.
	t := strings.ToUpper(typeField[len(typeField)-3:])

	switch t {
	case "GGA":
		fix, err := parseGGA(fields, line, now)
		return fix, KindGGA, err
	case "RMC":
		fix, err := parseRMC(fields, line, now)
		return fix, KindRMC, err
	default:
		return nil, KindIgnored, nil
	}
}

// verify checks the "$...*hh" envelope and the XOR checksum, returning the
// payload between '$' and '*'.
func verify(line string) (string, error) {
	if !strings.HasPrefix(line, "$") {
		return "", fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return "", fmt.Errorf("nmea: missing checksum delimiter")
	}
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return "", fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(strings.ToUpper(ck[:2]))
	if err != nil || len(want) != 1 {
		return "", fmt.Errorf("nmea: bad checksum %q", ck)
	}

	payload := line[1:star]
	if Checksum(payload) != want[0] {
		return "", fmt.Errorf("%w: %q", ErrChecksum, line)
	}
	if payload == "" {
		return "", fmt.Errorf("nmea: empty sentence")
	}
	return payload, nil
}

// Checksum is the running XOR over every byte between '$' and '*'.
func Checksum(payload string) byte {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// GGA fields:
//
//	0: talker+type
//	1: UTC time (informational only)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: satellites in use
//	8: HDOP
//	9: altitude (meters)
func parseGGA(f []string, raw string, now time.Time) (*Fix, error) {
	if len(f) < 15 {
		return nil, fmt.Errorf("nmea: GGA with %d fields", len(f))
	}
	lat, err := parseCoordinate(f[2], f[3])
	if err != nil {
		return nil, err
	}
	lon, err := parseCoordinate(f[4], f[5])
	if err != nil {
		return nil, err
	}
	quality, err := parseIntField(f[6])
	if err != nil {
		return nil, err
	}
	sats, err := parseIntField(f[7])
	if err != nil {
		return nil, err
	}
	hdop, err := parseFloatField(f[8])
	if err != nil {
		return nil, err
	}
	alt, err := parseFloatField(f[9])
	if err != nil {
		return nil, err
	}

	return &Fix{
		Timestamp:  now,
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   alt,
		Quality:    Quality(quality),
		Satellites: sats,
		HDOP:       hdop,
		RawNMEA:    raw,
	}, nil
}

// RMC fields:
//
//	0: talker+type
//	1: UTC time
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//
// RMC carries no altitude, satellite count or HDOP; a void status yields no
// fix at all.
func parseRMC(f []string, raw string, now time.Time) (*Fix, error) {
	if len(f) < 12 {
		return nil, fmt.Errorf("nmea: RMC with %d fields", len(f))
	}
	if strings.TrimSpace(f[2]) != "A" {
		return nil, nil
	}
	lat, err := parseCoordinate(f[3], f[4])
	if err != nil {
		return nil, err
	}
	lon, err := parseCoordinate(f[5], f[6])
	if err != nil {
		return nil, err
	}

	return &Fix{
		Timestamp: now,
		Latitude:  lat,
		Longitude: lon,
		Quality:   QualityAutonomous,
		RawNMEA:   raw,
	}, nil
}

// parseCoordinate converts packed ddmm.mmmm / dddmm.mmmm plus hemisphere to
// signed decimal degrees. An empty value is 0 (receiver still acquiring); a
// present but malformed value is an error.
func parseCoordinate(v, hemi string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}

	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, fmt.Errorf("nmea: bad coordinate %q", v)
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, fmt.Errorf("nmea: bad coordinate %q", v)
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: bad coordinate %q", v)
	}

	dec := float64(deg) + mins/60.0
	switch strings.ToUpper(strings.TrimSpace(hemi)) {
	case "S", "W":
		dec = -dec
	}
	return dec, nil
}

func parseIntField(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("nmea: bad integer field %q", s)
	}
	return v, nil
}

func parseFloatField(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: bad numeric field %q", s)
	}
	return v, nil
}
