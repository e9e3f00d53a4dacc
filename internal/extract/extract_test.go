package extract

import (
	"math"
	"testing"
	"time"

	"github.com/bep/imagemeta"
)

func TestExtractEmptyData(t *testing.T) {
	if _, err := Extract(nil); err == nil {
		t.Fatal("Extract(nil) error = nil, want error")
	}
	if _, err := Extract([]byte{}); err == nil {
		t.Fatal("Extract(empty) error = nil, want error")
	}
}

func TestExtractGarbageData(t *testing.T) {
	if _, err := Extract([]byte("not an image at all")); err == nil {
		t.Fatal("Extract(garbage) error = nil, want error")
	}
}

func tag(name string, value any) map[string]imagemeta.TagInfo {
	return map[string]imagemeta.TagInfo{
		name: {Source: imagemeta.EXIF, Tag: name, Value: value},
	}
}

func gpsTags(lat, lon any, ns, ew string) map[string]imagemeta.TagInfo {
	tags := map[string]imagemeta.TagInfo{
		"GPSLatitude":  {Source: imagemeta.EXIF, Tag: "GPSLatitude", Value: lat},
		"GPSLongitude": {Source: imagemeta.EXIF, Tag: "GPSLongitude", Value: lon},
	}
	if ns != "" {
		tags["GPSLatitudeRef"] = imagemeta.TagInfo{Source: imagemeta.EXIF, Tag: "GPSLatitudeRef", Value: ns}
	}
	if ew != "" {
		tags["GPSLongitudeRef"] = imagemeta.TagInfo{Source: imagemeta.EXIF, Tag: "GPSLongitudeRef", Value: ew}
	}
	return tags
}

func TestLatLong(t *testing.T) {
	tests := []struct {
		name    string
		tags    map[string]imagemeta.TagInfo
		wantLat float64
		wantLon float64
		wantGPS bool
	}{
		{"north east", gpsTags(48.858370, 2.294481, "N", "E"), 48.858370, 2.294481, true},
		{"south west", gpsTags(33.868820, 151.209290, "S", "W"), -33.868820, -151.209290, true},
		{"missing refs", gpsTags(48.5, 2.5, "", ""), 48.5, 2.5, true},
		{"missing longitude", tag("GPSLatitude", 48.5), 0, 0, false},
		{"null island", gpsTags(0.0, 0.0, "N", "E"), 0, 0, false},
		{"nan coordinates", gpsTags(math.NaN(), math.NaN(), "N", "E"), 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, ok := latLong(tt.tags)
			if ok != tt.wantGPS {
				t.Fatalf("latLong() ok = %v, want %v", ok, tt.wantGPS)
			}
			if lat != tt.wantLat || lon != tt.wantLon {
				t.Errorf("latLong() = (%v, %v), want (%v, %v)", lat, lon, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestDateTime(t *testing.T) {
	if dt, ok := dateTime(tag("DateTimeOriginal", "2024:07:04 15:30:05")); !ok {
		t.Fatal("dateTime() ok = false")
	} else if want := time.Date(2024, 7, 4, 15, 30, 5, 0, time.UTC); !dt.Equal(want) {
		t.Errorf("dateTime() = %v, want %v", dt, want)
	}

	// DateTime is the fallback when DateTimeOriginal is absent.
	if _, ok := dateTime(tag("DateTime", "2024:01:02 03:04:05")); !ok {
		t.Error("dateTime() did not fall back to DateTime")
	}

	if _, ok := dateTime(tag("DateTimeOriginal", "yesterday")); ok {
		t.Error("dateTime() parsed garbage")
	}
	if _, ok := dateTime(map[string]imagemeta.TagInfo{}); ok {
		t.Error("dateTime() reported a date with no tags")
	}
}

func TestTagString(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"plain", "Canon", "Canon"},
		{"padded", "  Canon  ", "Canon"},
		{"slice", []string{"Jane Doe", "ignored"}, "Jane Doe"},
		{"any slice", []any{"first"}, "first"},
		{"wrong type", 42, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tagString(tag("X", tt.value), "X")
			if got != tt.want {
				t.Errorf("tagString() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := tagString(map[string]imagemeta.TagInfo{}, "Missing"); got != "" {
		t.Errorf("tagString(missing) = %q, want empty", got)
	}
}

func TestTagFloatCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"float64", 2.8, 2.8},
		{"uint16", uint16(100), 100},
		{"int", 35, 35},
		{"string", "4.5", 4.5},
		{"bad string", "n/a", 0},
		{"unsupported", struct{}{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tagFloat(tag("X", tt.value), "X")
			if got != tt.want {
				t.Errorf("tagFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTagInt(t *testing.T) {
	if got := tagInt(tag("ISO", uint16(400)), "ISO"); got != 400 {
		t.Errorf("tagInt() = %d, want 400", got)
	}
	if got := tagInt(tag("ISO", 400.0), "ISO"); got != 400 {
		t.Errorf("tagInt(float) = %d, want 400", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "", "x", "y"); got != "x" {
		t.Errorf("firstNonEmpty() = %q, want %q", got, "x")
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty() = %q, want empty", got)
	}
}
