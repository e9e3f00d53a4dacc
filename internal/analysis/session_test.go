package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/smehta/metascan/internal/ai"
	"github.com/smehta/metascan/internal/auth"
	"github.com/smehta/metascan/internal/extract"
	"github.com/smehta/metascan/internal/geocode"
	"github.com/smehta/metascan/internal/history"
)

type fakeGeocoder struct {
	address string
	err     error
	calls   int
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	f.calls++
	return f.address, f.err
}

type fakeAssistant struct {
	describeFn func(ctx context.Context) (string, error)
	chatFn     func(ctx context.Context, question string) (string, error)
}

func (f *fakeAssistant) Describe(ctx context.Context, img []byte, address string, coords *ai.LatLng) (string, error) {
	if f.describeFn != nil {
		return f.describeFn(ctx)
	}
	return "a photo", nil
}

func (f *fakeAssistant) ChatTurn(ctx context.Context, question string, meta map[string]string, img []byte) (string, error) {
	if f.chatFn != nil {
		return f.chatFn(ctx, question)
	}
	return "an answer", nil
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, uid string) ([]history.Record, error) {
	return nil, nil
}

func (failingStore) Sync(ctx context.Context, uid string, records []history.Record) error {
	return errors.New("provisioned throughput exceeded")
}

// stubPipeline replaces the extraction and compression hooks for the
// duration of a test.
func stubPipeline(t *testing.T, res *extract.Result, extractErr error, preview []byte, compressErr error) {
	t.Helper()
	origExtract, origCompress := extractMeta, compressPreview
	extractMeta = func(data []byte) (*extract.Result, error) {
		if extractErr != nil {
			return nil, extractErr
		}
		return res, nil
	}
	compressPreview = func(data []byte) ([]byte, error) {
		return preview, compressErr
	}
	t.Cleanup(func() {
		extractMeta, compressPreview = origExtract, origCompress
	})
}

func gpsResult() *extract.Result {
	return &extract.Result{
		Latitude:  48.858370,
		Longitude: 2.294481,
		HasGPS:    true,
		Make:      "Canon",
		Raw:       map[string]any{"Make": "Canon"},
	}
}

func TestProcessFileNoGPSSkipsGeocoder(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, []byte("jpeg"), nil)
	geo := &fakeGeocoder{address: "should not be used"}
	s := NewSession(geo, &fakeAssistant{}, nil, nil)

	snap, err := s.ProcessFile(context.Background(), "indoor.jpg", []byte("data"))
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if geo.calls != 0 {
		t.Errorf("geocoder called %d times for a photo without GPS", geo.calls)
	}
	if _, ok := snap.Metadata["Coordinates"]; ok {
		t.Error("Coordinates present without GPS data")
	}
	if _, ok := snap.Metadata["REVERSED GEOLOCATION"]; ok {
		t.Error("REVERSED GEOLOCATION present without GPS data")
	}
	if snap.Address != geocode.DisplayNotFound {
		t.Errorf("address = %q, want %q", snap.Address, geocode.DisplayNotFound)
	}
}

func TestProcessFileWithGPS(t *testing.T) {
	stubPipeline(t, gpsResult(), nil, []byte("jpeg"), nil)
	geo := &fakeGeocoder{address: "Champ de Mars, Paris"}
	store := history.NewMemoryStore()
	user := &auth.User{UID: "uid-1", Email: "a@example.com"}
	s := NewSession(geo, &fakeAssistant{}, store, user)

	snap, err := s.ProcessFile(context.Background(), "tower.jpg", []byte("data"))
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if geo.calls != 1 {
		t.Errorf("geocoder calls = %d, want 1", geo.calls)
	}
	if got := snap.Metadata["Coordinates"]; got != "48.858370, 2.294481" {
		t.Errorf("Coordinates = %q", got)
	}
	if got := snap.Metadata["REVERSED GEOLOCATION"]; got != "CHAMP DE MARS, PARIS" {
		t.Errorf("REVERSED GEOLOCATION = %q", got)
	}
	if got := snap.Metadata["Make"]; got != "CANON" {
		t.Errorf("Make = %q", got)
	}

	records, err := store.Load(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Address != "Champ de Mars, Paris" {
		t.Errorf("record address = %q", rec.Address)
	}
	if rec.Latitude == nil || *rec.Latitude != 48.858370 {
		t.Errorf("record latitude = %v", rec.Latitude)
	}
	if rec.ImagePreview == "" {
		t.Error("record preview is empty")
	}
}

func TestProcessFileGeocodeFailure(t *testing.T) {
	stubPipeline(t, gpsResult(), nil, []byte("jpeg"), nil)
	geo := &fakeGeocoder{err: geocode.ErrGeocoding}
	store := history.NewMemoryStore()
	user := &auth.User{UID: "uid-1"}
	s := NewSession(geo, &fakeAssistant{}, store, user)

	snap, err := s.ProcessFile(context.Background(), "tower.jpg", []byte("data"))
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if snap.Address != "Geocoding Error" {
		t.Errorf("address = %q, want the sentinel", snap.Address)
	}
	if _, ok := snap.Metadata["REVERSED GEOLOCATION"]; ok {
		t.Error("sentinel leaked into normalized metadata")
	}
	if _, ok := snap.Metadata["Coordinates"]; !ok {
		t.Error("Coordinates missing despite valid GPS data")
	}

	records, _ := store.Load(context.Background(), "uid-1")
	if len(records) != 1 || records[0].Address != "Geocoding Error" {
		t.Errorf("history record should keep the sentinel address, got %+v", records)
	}
}

func TestProcessFileExtractFailureAbortsCleanly(t *testing.T) {
	stubPipeline(t, nil, errors.New("unsupported format"), []byte("jpeg"), nil)
	store := history.NewMemoryStore()
	user := &auth.User{UID: "uid-1"}
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, store, user)

	if _, err := s.ProcessFile(context.Background(), "bad.bin", []byte("data")); err == nil {
		t.Fatal("expected extraction error")
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Snapshot error = %v, want ErrNoPhoto", err)
	}
	records, _ := store.Load(context.Background(), "uid-1")
	if len(records) != 0 {
		t.Errorf("history written despite extraction failure: %v", records)
	}
}

func TestProcessFileCompressionFailureIsNonFatal(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, nil, errors.New("not an image"))
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, nil, nil)

	snap, err := s.ProcessFile(context.Background(), "odd.tiff", []byte("data"))
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if snap.Preview != nil {
		t.Error("expected no preview after compression failure")
	}
	if snap.Metadata["Make"] != "SONY" {
		t.Error("metadata missing after compression failure")
	}
}

func TestProcessFileSyncFailureIsNonFatal(t *testing.T) {
	stubPipeline(t, gpsResult(), nil, []byte("jpeg"), nil)
	user := &auth.User{UID: "uid-1"}
	s := NewSession(&fakeGeocoder{address: "Paris"}, &fakeAssistant{}, failingStore{}, user)

	if _, err := s.ProcessFile(context.Background(), "tower.jpg", []byte("data")); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if got := len(s.History()); got != 1 {
		t.Errorf("in-memory history length = %d, want 1", got)
	}
}

func TestHistoryCapped(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, nil, nil)
	user := &auth.User{UID: "uid-1"}
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, history.NewMemoryStore(), user)

	for i := 0; i < history.MaxEntries+5; i++ {
		name := fmt.Sprintf("photo-%03d.jpg", i)
		if _, err := s.ProcessFile(context.Background(), name, []byte("data")); err != nil {
			t.Fatalf("ProcessFile %d: %v", i, err)
		}
	}

	records := s.History()
	if len(records) != history.MaxEntries {
		t.Fatalf("history length = %d, want %d", len(records), history.MaxEntries)
	}
	// Most recent first.
	if got := records[0].Metadata["File Name"]; !strings.Contains(got, "054") {
		t.Errorf("newest record = %q, want photo-054", got)
	}
	if got := records[len(records)-1].Metadata["File Name"]; !strings.Contains(got, "005") {
		t.Errorf("oldest record = %q, want photo-005", got)
	}
}

func TestResetClearsState(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, []byte("jpeg"), nil)
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, nil, nil)

	if _, err := s.ProcessFile(context.Background(), "a.jpg", []byte("data")); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	s.Reset()
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Snapshot after reset = %v, want ErrNoPhoto", err)
	}
	// Resetting an empty session is fine.
	s.Reset()
}

func TestDescribeRequiresPhoto(t *testing.T) {
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, nil, nil)
	if _, err := s.Describe(context.Background()); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Describe = %v, want ErrNoPhoto", err)
	}
	if _, err := s.Chat(context.Background(), "where was this taken?"); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Chat = %v, want ErrNoPhoto", err)
	}
}

func TestDescribeRetainedInSnapshot(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, []byte("jpeg"), nil)
	assistant := &fakeAssistant{describeFn: func(ctx context.Context) (string, error) {
		return "A quiet street at dusk.", nil
	}}
	s := NewSession(&fakeGeocoder{}, assistant, nil, nil)

	if _, err := s.ProcessFile(context.Background(), "a.jpg", []byte("data")); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if _, err := s.Describe(context.Background()); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Description != "A quiet street at dusk." {
		t.Errorf("Description = %q", snap.Description)
	}
}

func TestDescribeDiscardedAfterReset(t *testing.T) {
	stubPipeline(t, &extract.Result{Make: "Sony"}, nil, []byte("jpeg"), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	assistant := &fakeAssistant{describeFn: func(ctx context.Context) (string, error) {
		close(entered)
		<-release
		return "stale answer", nil
	}}
	s := NewSession(&fakeGeocoder{}, assistant, nil, nil)

	if _, err := s.ProcessFile(context.Background(), "a.jpg", []byte("data")); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Describe(context.Background())
		done <- err
	}()

	<-entered
	s.Reset()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStale) {
			t.Errorf("Describe = %v, want ErrStale", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Describe did not return")
	}
	snap := func() *Snapshot { sn, _ := s.Snapshot(); return sn }()
	if snap != nil && snap.Description != "" {
		t.Errorf("stale description retained: %q", snap.Description)
	}
}

func TestDeleteHistoryMiddleEntry(t *testing.T) {
	store := history.NewMemoryStore()
	user := &auth.User{UID: "uid-1"}
	seed := make([]history.Record, 5)
	for i := range seed {
		seed[i] = history.Record{
			Address:   fmt.Sprintf("place %d", i),
			Timestamp: time.Now().UTC(),
		}
	}
	if err := store.Sync(context.Background(), "uid-1", seed); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, store, user)
	if err := s.LoadHistory(context.Background()); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	if err := s.DeleteHistory(context.Background(), 2); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	records := s.History()
	if len(records) != 4 {
		t.Fatalf("history length = %d, want 4", len(records))
	}
	wantAddresses := []string{"place 0", "place 1", "place 3", "place 4"}
	for i, want := range wantAddresses {
		if records[i].Address != want {
			t.Errorf("records[%d].Address = %q, want %q", i, records[i].Address, want)
		}
	}

	persisted, _ := store.Load(context.Background(), "uid-1")
	if len(persisted) != 4 {
		t.Errorf("persisted length = %d, want 4", len(persisted))
	}
}

func TestDeleteHistoryOutOfRange(t *testing.T) {
	user := &auth.User{UID: "uid-1"}
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, history.NewMemoryStore(), user)
	if err := s.DeleteHistory(context.Background(), 0); err == nil {
		t.Error("expected out-of-range error")
	}
	if err := s.DeleteHistory(context.Background(), -1); err == nil {
		t.Error("expected out-of-range error for negative index")
	}
}

func TestRestoreHistory(t *testing.T) {
	store := history.NewMemoryStore()
	user := &auth.User{UID: "uid-1"}
	lat, lon := 35.658581, 139.745438
	rec := history.Record{
		Latitude:  &lat,
		Longitude: &lon,
		Address:   "Tokyo Tower",
		Timestamp: time.Now().UTC(),
		Metadata: map[string]string{
			"File Name":            "TOKYO.JPG",
			"Coordinates":          "35.658581, 139.745438",
			"REVERSED GEOLOCATION": "TOKYO TOWER",
		},
	}
	if err := store.Sync(context.Background(), "uid-1", []history.Record{rec}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, store, user)
	if err := s.LoadHistory(context.Background()); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if err := s.RestoreHistory(0); err != nil {
		t.Fatalf("RestoreHistory: %v", err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Address != "Tokyo Tower" {
		t.Errorf("Address = %q", snap.Address)
	}
	if snap.Metadata["Coordinates"] != "35.658581, 139.745438" {
		t.Errorf("Coordinates = %q", snap.Metadata["Coordinates"])
	}
	if snap.Latitude == nil || *snap.Latitude != lat {
		t.Errorf("Latitude = %v", snap.Latitude)
	}
	if snap.Raw != nil {
		t.Error("restored session should have no raw tag bag")
	}
}

func TestRestoreHistoryOutOfRange(t *testing.T) {
	s := NewSession(&fakeGeocoder{}, &fakeAssistant{}, nil, nil)
	if err := s.RestoreHistory(0); err == nil {
		t.Error("expected out-of-range error")
	}
}
