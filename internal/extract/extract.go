// Package extract decodes EXIF, IPTC, and XMP metadata from image
// bytes using the bep/imagemeta streaming decoder.
//
// The decoded attribute bag is kept verbatim in Result.Raw for the
// raw-metadata view and JSON export; a curated set of typed fields is
// lifted out for the normalized display view and GPS handling.
package extract

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bep/imagemeta"
	"github.com/rs/zerolog/log"
)

// Result holds everything decoded from a single image.
type Result struct {
	// Raw is the pass-through attribute bag: tag name -> decoded value.
	// Never reinterpreted downstream; used for the raw view and JSON export.
	Raw map[string]any

	Latitude  float64
	Longitude float64
	HasGPS    bool

	DateTimeOriginal time.Time
	HasDate          bool

	Make      string
	Model     string
	Software  string
	LensMake  string
	LensModel string
	Creator   string
	Headline  string
	Descr     string
	Copyright string

	ExposureTime    float64
	FNumber         float64
	FocalLength     float64
	GPSAltitude     float64
	GPSSpeed        float64
	GPSImgDirection float64
	GPSDOP          float64
	XResolution     float64
	YResolution     float64

	ISOSpeedRatings int
	Orientation     int
	ColorSpace      int
	Flash           int
	HasFlash        bool
	PixelXDimension int
	PixelYDimension int
	ImageWidth      int
	ImageHeight     int
}

// Extract decodes metadata from raw image bytes. A parser failure is
// fatal to the current analysis and is returned as an error.
//
// Tags are collected in the HandleTag callback, grouped per source.
func Extract(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	exif := make(map[string]imagemeta.TagInfo)
	iptc := make(map[string]imagemeta.TagInfo)
	xmp := make(map[string]imagemeta.TagInfo)
	raw := make(map[string]any)

	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if ti.Source != imagemeta.EXIF {
				return true
			}
			// Skip the thumbnail IFD (IFD1).
			return strings.HasPrefix(ti.Namespace, "IFD0")
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			raw[ti.Tag] = ti.Value
			switch ti.Source {
			case imagemeta.EXIF:
				exif[ti.Tag] = ti
			case imagemeta.IPTC:
				iptc[ti.Tag] = ti
			case imagemeta.XMP:
				xmp[ti.Tag] = ti
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode image metadata: %w", err)
	}

	res := &Result{Raw: raw}

	if lat, lon, ok := latLong(exif); ok {
		res.Latitude = lat
		res.Longitude = lon
		res.HasGPS = true
	}

	if dt, ok := dateTime(exif); ok {
		res.DateTimeOriginal = dt
		res.HasDate = true
	}

	res.Make = tagString(exif, "Make")
	res.Model = tagString(exif, "Model")
	res.Software = tagString(exif, "Software")
	res.LensMake = tagString(exif, "LensMake")
	res.LensModel = tagString(exif, "LensModel")

	// Descriptive fields prefer IPTC, falling back to XMP (Dublin Core).
	res.Headline = firstNonEmpty(tagString(iptc, "Headline"), tagString(xmp, "Headline"))
	res.Creator = firstNonEmpty(tagString(iptc, "Byline"), tagString(xmp, "creator"), tagString(xmp, "Creator"))
	res.Descr = firstNonEmpty(tagString(iptc, "Caption"), tagString(iptc, "Caption-Abstract"), tagString(xmp, "description"), tagString(xmp, "Description"))
	res.Copyright = firstNonEmpty(tagString(exif, "Copyright"), tagString(iptc, "CopyrightNotice"))

	res.ExposureTime = tagFloat(exif, "ExposureTime")
	res.FNumber = tagFloat(exif, "FNumber")
	res.FocalLength = tagFloat(exif, "FocalLength")
	res.GPSAltitude = tagFloat(exif, "GPSAltitude")
	res.GPSSpeed = tagFloat(exif, "GPSSpeed")
	res.GPSImgDirection = tagFloat(exif, "GPSImgDirection")
	res.GPSDOP = tagFloat(exif, "GPSDOP")
	res.XResolution = tagFloat(exif, "XResolution")
	res.YResolution = tagFloat(exif, "YResolution")

	res.ISOSpeedRatings = tagInt(exif, "ISOSpeedRatings")
	if res.ISOSpeedRatings == 0 {
		res.ISOSpeedRatings = tagInt(exif, "PhotographicSensitivity")
	}
	res.Orientation = tagInt(exif, "Orientation")
	res.ColorSpace = tagInt(exif, "ColorSpace")
	if _, ok := exif["Flash"]; ok {
		res.Flash = tagInt(exif, "Flash")
		res.HasFlash = true
	}
	res.PixelXDimension = tagInt(exif, "PixelXDimension")
	res.PixelYDimension = tagInt(exif, "PixelYDimension")
	res.ImageWidth = tagInt(exif, "ImageWidth")
	res.ImageHeight = tagInt(exif, "ImageLength")

	log.Debug().
		Int("raw_tags", len(res.Raw)).
		Bool("has_gps", res.HasGPS).
		Bool("has_date", res.HasDate).
		Msg("Image metadata extraction complete")

	return res, nil
}

// latLong derives signed decimal coordinates from the EXIF GPS tags.
// The decoded values are unsigned degrees; the Ref tags supply the
// hemisphere. Missing tags, NaN, and the (0, 0) null island read all
// report no GPS.
func latLong(exif map[string]imagemeta.TagInfo) (float64, float64, bool) {
	latTag, hasLat := exif["GPSLatitude"]
	lonTag, hasLon := exif["GPSLongitude"]
	if !hasLat || !hasLon {
		return 0, 0, false
	}

	lat := toFloat(latTag.Value)
	lon := toFloat(lonTag.Value)
	if ref, ok := exif["GPSLatitudeRef"]; ok {
		if s, _ := ref.Value.(string); s == "S" {
			lat = -lat
		}
	}
	if ref, ok := exif["GPSLongitudeRef"]; ok {
		if s, _ := ref.Value.(string); s == "W" {
			lon = -lon
		}
	}

	// toFloat maps NaN to zero, so this also rejects NaN coordinates.
	if lat == 0 && lon == 0 {
		return 0, 0, false
	}
	return lat, lon, true
}

// dateTime parses the capture timestamp, trying DateTimeOriginal first
// and then DateTime.
func dateTime(exif map[string]imagemeta.TagInfo) (time.Time, bool) {
	const layout = "2006:01:02 15:04:05"
	for _, name := range []string{"DateTimeOriginal", "DateTime"} {
		s := tagString(exif, name)
		if s == "" {
			continue
		}
		if dt, err := time.Parse(layout, s); err == nil && !dt.IsZero() {
			return dt, true
		}
	}
	return time.Time{}, false
}

// --- Tag value coercion ---
//
// EXIF scalar values surface as float64 (rationals), assorted integer
// widths, or strings depending on the tag type; XMP values may also be
// string slices. The helpers below flatten those shapes.

func tagString(m map[string]imagemeta.TagInfo, name string) string {
	ti, ok := m[name]
	if !ok {
		return ""
	}
	switch v := ti.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func tagFloat(m map[string]imagemeta.TagInfo, name string) float64 {
	ti, ok := m[name]
	if !ok {
		return 0
	}
	return toFloat(ti.Value)
}

func tagInt(m map[string]imagemeta.TagInfo, name string) int {
	ti, ok := m[name]
	if !ok {
		return 0
	}
	return int(toFloat(ti.Value))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
