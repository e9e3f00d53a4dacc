// Package analysis coordinates the per-session pipeline: metadata
// extraction, preview compression, reverse geocoding, history
// persistence, and AI interactions over the current photo.
package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smehta/metascan/internal/ai"
	"github.com/smehta/metascan/internal/auth"
	"github.com/smehta/metascan/internal/extract"
	"github.com/smehta/metascan/internal/geocode"
	"github.com/smehta/metascan/internal/history"
	"github.com/smehta/metascan/internal/imgutil"
)

// Preview compression parameters applied to every analyzed photo.
const (
	previewMaxDimension = 500
	previewQuality      = 70
)

// ErrNoPhoto is returned by operations that need an analyzed photo when
// none is loaded.
var ErrNoPhoto = errors.New("no photo has been analyzed")

// Test hooks.
var (
	extractMeta     = extract.Extract
	compressPreview = func(data []byte) ([]byte, error) {
		return imgutil.CompressPreview(data, previewMaxDimension, previewQuality)
	}
)

// ErrStale indicates an AI response arrived after the session was reset
// and was discarded.
var ErrStale = errors.New("session was reset while waiting for response")

// Geocoder resolves GPS coordinates to a street address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Assistant generates descriptions and answers questions about the
// current photo.
type Assistant interface {
	Describe(ctx context.Context, img []byte, address string, coords *ai.LatLng) (string, error)
	ChatTurn(ctx context.Context, question string, meta map[string]string, img []byte) (string, error)
}

// Snapshot is a read-only view of the session's current photo state,
// consumed by exporters and the metadata endpoint.
type Snapshot struct {
	FileName    string
	Metadata    map[string]string
	Raw         map[string]any
	Preview     []byte
	Address     string
	Latitude    *float64
	Longitude   *float64
	Description string
}

// Session holds the state of one authenticated (or anonymous) client:
// the current photo's metadata, its compressed preview, and the user's
// history. All methods are safe for concurrent use.
type Session struct {
	geocoder  Geocoder
	assistant Assistant
	store     history.Store
	user      *auth.User

	mu          sync.Mutex
	epoch       uint64
	fileName    string
	metadata    map[string]string
	raw         map[string]any
	preview     []byte
	address     string
	lat, lon    *float64
	description string
	records     []history.Record
}

// NewSession creates a session for the given user. A nil user is an
// anonymous session without history. History for a signed-in user is
// loaded with LoadHistory.
func NewSession(geocoder Geocoder, assistant Assistant, store history.Store, user *auth.User) *Session {
	return &Session{
		geocoder:  geocoder,
		assistant: assistant,
		store:     store,
		user:      user,
	}
}


// User returns the session's user, nil for anonymous sessions.
func (s *Session) User() *auth.User {
	return s.user
}

// LoadHistory fetches the user's persisted history. It is a no-op for
// anonymous sessions.
func (s *Session) LoadHistory(ctx context.Context) error {
	if s.user == nil || s.store == nil {
		return nil
	}
	records, err := s.store.Load(ctx, s.user.UID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	log.Debug().Str("uid", s.user.UID).Int("entries", len(records)).Msg("History loaded")
	return nil
}

// ProcessFile analyzes a photo: it resets the session, extracts
// metadata and compresses a preview concurrently, reverse-geocodes GPS
// coordinates when present, and appends the result to the user's
// history. Extraction failure aborts the whole operation and leaves the
// session empty. Preview compression failure and history sync failure
// are logged but do not fail the analysis.
func (s *Session) ProcessFile(ctx context.Context, fileName string, data []byte) (*Snapshot, error) {
	s.Reset()

	var (
		res     *extract.Result
		preview []byte
	)
	var g errgroup.Group
	g.Go(func() error {
		r, err := extractMeta(data)
		if err != nil {
			return fmt.Errorf("extract metadata: %w", err)
		}
		res = r
		return nil
	})
	g.Go(func() error {
		p, err := compressPreview(data)
		if err != nil {
			log.Warn().Err(err).Str("file", fileName).Msg("Preview compression failed")
			return nil
		}
		preview = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Geocoding completes before anything is persisted, so history
	// entries always carry the resolved (or sentinel) address.
	var address string
	var genuine bool
	if res.HasGPS {
		resolved, err := s.geocoder.Reverse(ctx, res.Latitude, res.Longitude)
		if err != nil {
			address = geocode.Display(err)
			log.Warn().Err(err).
				Float64("lat", res.Latitude).
				Float64("lon", res.Longitude).
				Msg("Reverse geocoding failed")
		} else {
			address = resolved
			genuine = true
		}
	} else {
		address = geocode.DisplayNotFound
	}

	// Only a genuine address belongs in the normalized metadata.
	normalizedAddress := ""
	if genuine {
		normalizedAddress = address
	}
	meta := normalize(res, fileName, int64(len(data)), normalizedAddress)

	s.mu.Lock()
	s.fileName = fileName
	s.metadata = meta
	s.raw = res.Raw
	s.preview = preview
	s.address = address
	if res.HasGPS {
		lat, lon := res.Latitude, res.Longitude
		s.lat, s.lon = &lat, &lon
	}
	snap := s.snapshotLocked()

	var record *history.Record
	if s.user != nil && s.store != nil {
		rec := history.Record{
			Latitude:  s.lat,
			Longitude: s.lon,
			Address:   address,
			Timestamp: time.Now().UTC(),
			Metadata:  meta,
		}
		if len(preview) > 0 {
			rec.ImagePreview = base64.StdEncoding.EncodeToString(preview)
		}
		s.records = append([]history.Record{rec}, s.records...)
		if len(s.records) > history.MaxEntries {
			s.records = s.records[:history.MaxEntries]
		}
		record = &rec
	}
	records := append([]history.Record(nil), s.records...)
	s.mu.Unlock()

	if record != nil {
		if err := s.store.Sync(ctx, s.user.UID, records); err != nil {
			log.Warn().Err(err).Str("uid", s.user.UID).Msg("History sync failed")
		}
	}

	log.Info().Str("file", fileName).Int("fields", len(meta)).Msg("Photo analyzed")
	return snap, nil
}

// Reset clears the current photo state and invalidates any in-flight AI
// requests. History and the signed-in user are untouched. Resetting an
// already-empty session is a no-op apart from the epoch bump.
func (s *Session) Reset() {
	s.mu.Lock()
	s.epoch++
	s.fileName = ""
	s.metadata = nil
	s.raw = nil
	s.preview = nil
	s.address = ""
	s.lat, s.lon = nil, nil
	s.description = ""
	s.mu.Unlock()
}

// Describe asks the assistant for a description of the current photo
// grounded in its location. The text is retained for export. A reset
// while the request is in flight discards the response.
func (s *Session) Describe(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.metadata == nil {
		s.mu.Unlock()
		return "", ErrNoPhoto
	}
	epoch := s.epoch
	preview := s.preview
	address := s.address
	var coords *ai.LatLng
	if s.lat != nil && s.lon != nil {
		coords = &ai.LatLng{Lat: *s.lat, Lon: *s.lon}
	}
	s.mu.Unlock()

	text, err := s.assistant.Describe(ctx, preview, address, coords)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		log.Debug().Msg("Discarding description for reset session")
		return "", ErrStale
	}
	s.description = text
	return text, nil
}

// Chat answers a free-form question about the current photo using its
// metadata and preview as context. A reset while the request is in
// flight discards the answer.
func (s *Session) Chat(ctx context.Context, question string) (string, error) {
	s.mu.Lock()
	if s.metadata == nil {
		s.mu.Unlock()
		return "", ErrNoPhoto
	}
	epoch := s.epoch
	meta := s.metadata
	preview := s.preview
	s.mu.Unlock()

	answer, err := s.assistant.ChatTurn(ctx, question, meta, preview)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		log.Debug().Msg("Discarding chat answer for reset session")
		return "", ErrStale
	}
	return answer, nil
}

// Snapshot returns the current photo state, or ErrNoPhoto when nothing
// has been analyzed.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return nil, ErrNoPhoto
	}
	return s.snapshotLocked(), nil
}

func (s *Session) snapshotLocked() *Snapshot {
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return &Snapshot{
		FileName:    s.fileName,
		Metadata:    meta,
		Raw:         s.raw,
		Preview:     s.preview,
		Address:     s.address,
		Latitude:    s.lat,
		Longitude:   s.lon,
		Description: s.description,
	}
}

// History returns the session's history, most recent first.
func (s *Session) History() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Record(nil), s.records...)
}

// DeleteHistory removes the entry at index and syncs the remaining
// list. Indexes follow the most-recent-first order returned by History.
func (s *Session) DeleteHistory(ctx context.Context, index int) error {
	if s.user == nil || s.store == nil {
		return errors.New("history requires a signed-in user")
	}
	s.mu.Lock()
	if index < 0 || index >= len(s.records) {
		s.mu.Unlock()
		return fmt.Errorf("history index %d out of range", index)
	}
	s.records = append(s.records[:index], s.records[index+1:]...)
	records := append([]history.Record(nil), s.records...)
	s.mu.Unlock()

	if err := s.store.Sync(ctx, s.user.UID, records); err != nil {
		return fmt.Errorf("sync history: %w", err)
	}
	return nil
}

// RestoreHistory loads the entry at index back into the session as the
// current photo. The raw tag bag is not persisted in history, so a
// restored session exposes normalized metadata only.
func (s *Session) RestoreHistory(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.records) {
		return fmt.Errorf("history index %d out of range", index)
	}
	rec := s.records[index]

	s.epoch++
	s.fileName = rec.Metadata["File Name"]
	s.metadata = make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		s.metadata[k] = v
	}
	s.raw = nil
	s.address = rec.Address
	s.lat, s.lon = rec.Latitude, rec.Longitude
	s.description = ""
	s.preview = nil
	if rec.ImagePreview != "" {
		if decoded, err := base64.StdEncoding.DecodeString(rec.ImagePreview); err == nil {
			s.preview = decoded
		} else {
			log.Warn().Err(err).Msg("Stored preview is not valid base64")
		}
	}
	return nil
}
