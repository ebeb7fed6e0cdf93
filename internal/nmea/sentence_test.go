package nmea

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func line(payload string) string {
	return fmt.Sprintf("$%s*%02X", payload, Checksum(payload))
}

func TestParse_GGAReference(t *testing.T) {
	const raw = "$GNGGA,115713.000,3149.301528,N,11706.920684,E,1,17,0.88,98.7,M,-3.6,M,,*58"
	now := time.Date(2025, 6, 1, 11, 57, 13, 0, time.UTC)

	fix, kind, err := Parse(raw, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if kind != KindGGA {
		t.Fatalf("expected KindGGA, got %v", kind)
	}
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if math.Abs(fix.Latitude-31.8216921) > 1e-6 {
		t.Errorf("latitude = %.7f", fix.Latitude)
	}
	if math.Abs(fix.Longitude-117.1153447) > 1e-6 {
		t.Errorf("longitude = %.7f", fix.Longitude)
	}
	if fix.Quality != QualityAutonomous {
		t.Errorf("quality = %d", fix.Quality)
	}
	if fix.Satellites != 17 {
		t.Errorf("satellites = %d", fix.Satellites)
	}
	if math.Abs(fix.HDOP-0.88) > 1e-9 {
		t.Errorf("hdop = %v", fix.HDOP)
	}
	if math.Abs(fix.Altitude-98.7) > 1e-9 {
		t.Errorf("altitude = %v", fix.Altitude)
	}
	if !fix.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want capture time", fix.Timestamp)
	}
	if fix.RawNMEA != raw {
		t.Errorf("raw = %q", fix.RawNMEA)
	}
}

func TestParse_ChecksumMismatchYieldsNoFix(t *testing.T) {
	good := line("GNGGA,115713.000,3149.301528,N,11706.920684,E,1,17,0.88,98.7,M,-3.6,M,,")
	bad := good[:len(good)-2] + "00"
	fix, _, err := Parse(bad, time.Now())
	if err == nil {
		t.Fatal("expected checksum error")
	}
	if fix != nil {
		t.Fatal("corrupt sentence must not yield a fix")
	}
}

func TestParse_SingleCharCorruptionYieldsNoFix(t *testing.T) {
	good := line("GNGGA,115713.000,3149.301528,N,11706.920684,E,1,17,0.88,98.7,M,-3.6,M,,")
	// Corrupt each character inside the checksummed region in turn.
	star := strings.LastIndexByte(good, '*')
	for i := 1; i < star; i++ {
		b := []byte(good)
		b[i] ^= 0x01
		fix, _, err := Parse(string(b), time.Now())
		if err == nil && fix != nil {
			t.Fatalf("corruption at %d produced a fix: %q", i, string(b))
		}
	}
}

func TestParse_HemisphereSigns(t *testing.T) {
	cases := []struct {
		latDir, lonDir string
		latSign        float64
		lonSign        float64
	}{
		{"N", "E", 1, 1},
		{"N", "W", 1, -1},
		{"S", "E", -1, 1},
		{"S", "W", -1, -1},
	}
	for _, tc := range cases {
		raw := line(fmt.Sprintf("GPGGA,115713.000,4807.038,%s,01131.000,%s,1,08,0.9,545.4,M,46.9,M,,", tc.latDir, tc.lonDir))
		fix, _, err := Parse(raw, time.Now())
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.latDir, tc.lonDir, err)
		}
		wantLat := tc.latSign * (48 + 7.038/60)
		wantLon := tc.lonSign * (11 + 31.0/60)
		if math.Abs(fix.Latitude-wantLat) > 1e-6 {
			t.Errorf("%s/%s: lat = %.7f, want %.7f", tc.latDir, tc.lonDir, fix.Latitude, wantLat)
		}
		if math.Abs(fix.Longitude-wantLon) > 1e-6 {
			t.Errorf("%s/%s: lon = %.7f, want %.7f", tc.latDir, tc.lonDir, fix.Longitude, wantLon)
		}
	}
}

func TestParse_EmptyFieldsDefaultToZero(t *testing.T) {
	raw := line("GNGGA,115713.000,,,,,0,,,,M,,M,,")
	fix, kind, err := Parse(raw, time.Now())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if kind != KindGGA || fix == nil {
		t.Fatal("expected a GGA fix")
	}
	if fix.Latitude != 0 || fix.Longitude != 0 || fix.Altitude != 0 || fix.Satellites != 0 || fix.HDOP != 0 {
		t.Errorf("expected zero defaults, got %+v", fix)
	}
	if fix.Quality != QualityNoFix {
		t.Errorf("quality = %d", fix.Quality)
	}
}

func TestParse_UnparsableFieldDiscardsSentence(t *testing.T) {
	raw := line("GNGGA,115713.000,3149.301528,N,11706.920684,E,1,abc,0.88,98.7,M,-3.6,M,,")
	fix, _, err := Parse(raw, time.Now())
	if err == nil || fix != nil {
		t.Fatal("expected the whole sentence to be discarded")
	}
}

func TestParse_RMC(t *testing.T) {
	raw := line("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	fix, kind, err := Parse(raw, time.Now())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if kind != KindRMC || fix == nil {
		t.Fatal("expected an RMC fix")
	}
	if math.Abs(fix.Latitude-(48+7.038/60)) > 1e-6 {
		t.Errorf("lat = %.7f", fix.Latitude)
	}
	if fix.Altitude != 0 || fix.Satellites != 0 || fix.HDOP != 0 {
		t.Errorf("RMC must not invent altitude/sats/hdop: %+v", fix)
	}

	void := line("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	fix, kind, err = Parse(void, time.Now())
	if err != nil {
		t.Fatalf("void RMC is not an error: %v", err)
	}
	if fix != nil {
		t.Fatal("void RMC must not yield a fix")
	}
	if kind != KindRMC {
		t.Fatalf("kind = %v", kind)
	}
}

func TestParse_UnknownTypesIgnored(t *testing.T) {
	for _, payload := range []string{
		"GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00",
		"GNVTG,054.7,T,034.4,M,005.5,N,010.2,K",
	} {
		fix, kind, err := Parse(line(payload), time.Now())
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", payload, err)
		}
		if fix != nil || kind != KindIgnored {
			t.Fatalf("%q: expected ignored, got kind=%v fix=%v", payload, kind, fix)
		}
	}
}

func TestParse_RejectsMalformedEnvelope(t *testing.T) {
	for _, raw := range []string{
		"",
		"GNGGA,115713.000,3149.301528,N",
		"$GNGGA,115713.000,3149.301528,N",
		"$GNGGA,115713.000*Z9",
	} {
		fix, _, err := Parse(raw, time.Now())
		if err == nil || fix != nil {
			t.Errorf("%q: expected rejection", raw)
		}
	}
}

func TestEncodeGGA_RoundTrip(t *testing.T) {
	in := Fix{
		Latitude:   31.8216921,
		Longitude:  117.1153447,
		Altitude:   98.7,
		Quality:    QualityAutonomous,
		Satellites: 17,
		HDOP:       0.88,
	}
	now := time.Date(2025, 6, 1, 11, 57, 13, 0, time.UTC)
	raw := EncodeGGA(in, now)

	if !strings.HasPrefix(raw, "$GNGGA,115713.000,") {
		t.Fatalf("unexpected prefix: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n") {
		t.Fatalf("missing CRLF: %q", raw)
	}

	fix, kind, err := Parse(raw, now)
	if err != nil {
		t.Fatalf("own heartbeat failed to parse: %v", err)
	}
	if kind != KindGGA || fix == nil {
		t.Fatal("expected a GGA fix")
	}
	if math.Abs(fix.Latitude-in.Latitude) > 1e-6 {
		t.Errorf("lat = %.7f", fix.Latitude)
	}
	if math.Abs(fix.Longitude-in.Longitude) > 1e-6 {
		t.Errorf("lon = %.7f", fix.Longitude)
	}
	if fix.Satellites != in.Satellites || fix.Quality != in.Quality {
		t.Errorf("quality/sats mismatch: %+v", fix)
	}
}

func TestEncodeGGA_SouthWest(t *testing.T) {
	in := Fix{Latitude: -31.8216921, Longitude: -117.1153447, Quality: QualityRTKFixed, Satellites: 20, HDOP: 0.6, Altitude: 12.3}
	raw := EncodeGGA(in, time.Now())
	if !strings.Contains(raw, ",S,") || !strings.Contains(raw, ",W,") {
		t.Fatalf("expected S/W hemispheres: %q", raw)
	}
	fix, _, err := Parse(raw, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fix.Latitude >= 0 || fix.Longitude >= 0 {
		t.Errorf("signs lost: %+v", fix)
	}
}
