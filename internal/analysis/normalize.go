package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/smehta/metascan/internal/extract"
)

// Display keys for the two entries that sort ahead of everything else.
const (
	keyCoordinates = "Coordinates"
	keyGeolocation = "REVERSED GEOLOCATION"
)

// normalize converts extracted metadata into the display map. Absent or
// empty source values never produce a key, and every value is
// upper-cased. The address is omitted when empty, so geocoding failures
// keep their sentinel out of the map by passing "".
func normalize(res *extract.Result, fileName string, fileSize int64, address string) map[string]string {
	meta := make(map[string]string)

	put := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		meta[key] = strings.ToUpper(value)
	}

	if res.HasGPS {
		put(keyCoordinates, fmt.Sprintf("%.6f, %.6f", res.Latitude, res.Longitude))
	}
	put(keyGeolocation, address)

	put("File Name", fileName)
	put("File Size", formatBytes(fileSize))

	put("Make", res.Make)
	put("Model", res.Model)
	put("Software", res.Software)
	put("Lens Make", res.LensMake)
	put("Lens Model", res.LensModel)

	if res.ExposureTime > 0 {
		put("Exposure Time", formatFloat(res.ExposureTime)+"s")
	}
	if res.FNumber > 0 {
		put("F-Number", "f/"+formatFloat(res.FNumber))
	}
	if res.FocalLength > 0 {
		put("Focal Length", formatFloat(res.FocalLength)+"mm")
	}
	if res.ISOSpeedRatings > 0 {
		put("ISO Speed Ratings", strconv.Itoa(res.ISOSpeedRatings))
	}
	if res.HasFlash {
		if res.Flash&1 == 1 {
			put("Flash", "FLASH FIRED")
		} else {
			put("Flash", "FLASH NOT FIRED")
		}
	}
	if res.Orientation > 0 {
		put("Orientation", strconv.Itoa(res.Orientation))
	}
	if res.ColorSpace > 0 {
		put("Color Space", strconv.Itoa(res.ColorSpace))
	}
	if res.PixelXDimension > 0 {
		put("Pixel X Dimension", strconv.Itoa(res.PixelXDimension))
	}
	if res.PixelYDimension > 0 {
		put("Pixel Y Dimension", strconv.Itoa(res.PixelYDimension))
	}
	if res.ImageWidth > 0 {
		put("Image Width", strconv.Itoa(res.ImageWidth))
	}
	if res.ImageHeight > 0 {
		put("Image Height", strconv.Itoa(res.ImageHeight))
	}
	if res.XResolution > 0 {
		put("X Resolution", formatFloat(res.XResolution)+" DPI")
	}
	if res.YResolution > 0 {
		put("Y Resolution", formatFloat(res.YResolution)+" DPI")
	}

	if res.GPSAltitude != 0 {
		put("GPS Altitude", fmt.Sprintf("%.2fm", res.GPSAltitude))
	}
	if res.GPSSpeed != 0 {
		put("GPS Speed", fmt.Sprintf("%.2f km/h", res.GPSSpeed))
	}
	if res.GPSImgDirection != 0 {
		put("GPS Image Direction", fmt.Sprintf("%.2f°", res.GPSImgDirection))
	}
	if res.GPSDOP != 0 {
		put("GPS DOP (Precision)", fmt.Sprintf("%.2f", res.GPSDOP))
	}

	if res.HasDate {
		put("Date/Time Original", res.DateTimeOriginal.Format("01/02/2006, 15:04:05"))
	}

	put("Creator", res.Creator)
	put("Headline", res.Headline)
	put("Description", res.Descr)
	put("Copyright", res.Copyright)

	return meta
}

// SortedKeys orders metadata keys for display and export: Coordinates
// first, REVERSED GEOLOCATION second, everything else alphabetical.
func SortedKeys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k == keyCoordinates || k == keyGeolocation {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]string, 0, len(meta))
	if _, ok := meta[keyCoordinates]; ok {
		ordered = append(ordered, keyCoordinates)
	}
	if _, ok := meta[keyGeolocation]; ok {
		ordered = append(ordered, keyGeolocation)
	}
	return append(ordered, keys...)
}

// formatBytes humanizes a byte count in base-1024 units, trimming
// trailing zeros so 204800 renders as "200 KB". Sub-KB sizes keep the
// plain Bytes unit, including zero.
func formatBytes(size int64) string {
	if size < 1024 {
		return strconv.FormatInt(size, 10) + " Bytes"
	}
	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(size)
	unit := ""
	for _, u := range units {
		value /= 1024
		unit = u
		if value < 1024 {
			break
		}
	}
	return trimZeros(strconv.FormatFloat(value, 'f', 2, 64)) + " " + unit
}

// formatFloat renders a float with no trailing zeros.
func formatFloat(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
