// Package capture extracts embedded GPS coordinates and the capture timestamp
// from photo bytes. Extraction is best-effort: photos stripped of EXIF, or
// formats the decoder cannot read, yield "unknown" rather than an error; the
// pipeline treats missing evidence as a validation outcome, not a fault.
package capture

import (
	"bytes"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Capture holds whatever location and time evidence the photo carried.
type Capture struct {
	Lat    float64
	Lon    float64
	HasGPS bool

	TakenAt time.Time
	HasTime bool
}

// exifTimeLayout is the fixed EXIF DateTimeOriginal pattern.
const exifTimeLayout = "2006:01:02 15:04:05"

// Extract decodes EXIF metadata from raw image bytes. It never fails: any
// decode error returns an empty Capture.
//
// imagemeta reads JPEG, HEIC, TIFF and friends through an io.ReadSeeker and
// touches only the metadata segments, not the full image payload.
func Extract(data []byte) Capture {
	var meta Capture

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata decoded from photo")
		return meta
	}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		meta.Lat = gps.Latitude()
		meta.Lon = gps.Longitude()
		meta.HasGPS = true
	}

	// Fallback chain: DateTimeOriginal > CreateDate > ModifyDate.
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		meta.TakenAt = exifData.DateTimeOriginal()
		meta.HasTime = true
	case !exifData.CreateDate().IsZero():
		meta.TakenAt = exifData.CreateDate()
		meta.HasTime = true
	case !exifData.ModifyDate().IsZero():
		meta.TakenAt = exifData.ModifyDate()
		meta.HasTime = true
	}

	log.Debug().
		Bool("hasGps", meta.HasGPS).
		Bool("hasTime", meta.HasTime).
		Msg("Photo capture metadata extracted")

	return meta
}

// ParseExifTime parses the EXIF "YYYY:MM:DD HH:MM:SS" string form, as carried
// by uploaders that copy DateTimeOriginal into object metadata. The second
// return is false when the value does not match the fixed layout.
func ParseExifTime(raw string) (time.Time, bool) {
	t, err := time.Parse(exifTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DMSToDecimal converts a degrees/minutes/seconds coordinate plus hemisphere
// reference into decimal degrees: deg + min/60 + sec/3600, negated for the
// southern and western hemispheres.
func DMSToDecimal(deg, min, sec float64, ref string) float64 {
	val := deg + min/60.0 + sec/3600.0
	if ref == "S" || ref == "W" {
		return -val
	}
	return val
}
