// Package traveltime is the travel-time service: it answers route_duration
// and table queries against a mapping backend, fronted by an in-process
// LRU and a persistent read-through cache, with capped-exponential-backoff
// retry and a great-circle fallback estimate when the backend is down.
package traveltime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	gmaps "googlemaps.github.io/maps"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orm"
)

// Profile selects the travel mode the Oracle routes with.
type Profile string

const (
	ProfileDriving  Profile = "driving"
	ProfileWalking  Profile = "walking"
	ProfileTransit  Profile = "transit"
	ProfileBicycle  Profile = "bicycling"
)

// Result is one origin-destination travel time, flagged when it came from
// the great-circle fallback rather than a real routing call.
type Result struct {
	Seconds         int
	EstimateFlagged bool
}

// Oracle is the travel-time service's contract.
type Oracle interface {
	Duration(ctx context.Context, origin, dest model.Point, profile Profile) (Result, error)
	Table(ctx context.Context, points []model.Point, profile Profile) ([][]Result, error)
}

// Config tunes retry, caching and the fallback-estimate behavior.
type Config struct {
	MemoryCacheSize int
	MemoryCacheTTL  time.Duration
	PersistentTTL   time.Duration // default 7 days
	MaxRetries      int
	BaseBackoff     time.Duration
	BackoffFactor   float64
	RateLimitPerSec float64
	// FallbackSpeedMPS is the assumed straight-line speed used to derive an
	// estimate when the backend is unavailable and no cache entry exists.
	FallbackSpeedMPS float64
	// FallbackInflation accounts for roads never being straight lines.
	FallbackInflation float64
	// PeakMultiplier scales backend-returned durations during PeakHours
	// (default 1.0, e.g. 1.2 for peak hours).
	PeakMultiplier float64
	// PeakHours are [startMin, endMin) minute-of-day windows, local time,
	// during which PeakMultiplier applies. Empty disables peak scaling.
	PeakHours [][2]int
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		MemoryCacheSize:   2000,
		MemoryCacheTTL:    time.Hour,
		PersistentTTL:     7 * 24 * time.Hour,
		MaxRetries:        3,
		BaseBackoff:       100 * time.Millisecond,
		BackoffFactor:     2.0,
		RateLimitPerSec:   10,
		FallbackSpeedMPS:  8.33, // ~30 km/h, a city-driving estimate
		FallbackInflation: 1.3,
		PeakMultiplier:    1.0,
	}
}

type oracle struct {
	client  *gmaps.Client
	db      *gorm.DB
	cfg     Config
	limiter *rate.Limiter
	mem     *lruCache[string, Result]
	// now is overridden in tests; defaults to time.Now.
	now func() time.Time
}

// NewOracle constructs an Oracle backed by the Google Maps Distance Matrix
// API, with persistence in db and an in-process LRU in front of it.
func NewOracle(client *gmaps.Client, db *gorm.DB, cfg Config) Oracle {
	return &oracle{
		client:  client,
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
		mem:     newLRUCache[string, Result](cfg.MemoryCacheSize, cfg.MemoryCacheTTL),
		now:     time.Now,
	}
}

// peakScale returns cfg.PeakMultiplier if the current minute-of-day falls
// within a configured peak window, else 1.0.
func (o *oracle) peakScale() float64 {
	if o.cfg.PeakMultiplier <= 0 || len(o.cfg.PeakHours) == 0 {
		return 1.0
	}
	t := o.now()
	minuteOfDay := t.Hour()*60 + t.Minute()
	for _, w := range o.cfg.PeakHours {
		if minuteOfDay >= w[0] && minuteOfDay < w[1] {
			return o.cfg.PeakMultiplier
		}
	}
	return 1.0
}

func (o *oracle) Duration(ctx context.Context, origin, dest model.Point, profile Profile) (Result, error) {
	key := cacheKey(origin, dest, profile)

	if r, ok := o.mem.get(key); ok {
		return r, nil
	}
	if r, ok := o.readPersistent(key); ok {
		o.mem.set(key, r, o.cfg.MemoryCacheTTL)
		return r, nil
	}

	seconds, err := callWithRetry(ctx, o.limiter, o.cfg, func(ctx context.Context) (int, error) {
		return o.distanceMatrixOne(ctx, origin, dest, profile)
	})
	if err != nil {
		estimate := o.fallbackEstimate(origin, dest)
		return estimate, apperr.New(apperr.KindBackendUnavailable, "traveltime.Duration", "distance matrix call failed, using estimate", err)
	}

	result := Result{Seconds: int(float64(seconds) * o.peakScale())}
	o.mem.set(key, result, o.cfg.MemoryCacheTTL)
	o.writePersistent(key, result)
	return result, nil
}

func (o *oracle) Table(ctx context.Context, points []model.Point, profile Profile) ([][]Result, error) {
	n := len(points)
	table := make([][]Result, n)
	for i := range table {
		table[i] = make([]Result, n)
	}

	var missingOrigins, missingDests []model.Point
	missingIdx := make(map[[2]int]struct{})
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			key := cacheKey(points[i], points[j], profile)
			if r, ok := o.mem.get(key); ok {
				table[i][j] = r
				continue
			}
			if r, ok := o.readPersistent(key); ok {
				o.mem.set(key, r, o.cfg.MemoryCacheTTL)
				table[i][j] = r
				continue
			}
			missingIdx[[2]int{i, j}] = struct{}{}
		}
	}
	if len(missingIdx) == 0 {
		return table, nil
	}

	// Any cache miss falls back to a single bulk call across every point;
	// the Distance Matrix API prices and batches by row×column anyway, so
	// resolving only the exact missing cells buys nothing.
	missingOrigins = points
	missingDests = points

	var degraded error
	full, err := callWithRetry(ctx, o.limiter, o.cfg, func(ctx context.Context) ([][]int, error) {
		return o.callDistanceMatrixFull(ctx, missingOrigins, missingDests, profile)
	})
	if err != nil {
		degraded = apperr.New(apperr.KindBackendUnavailable, "traveltime.Table", "distance matrix table call failed, using estimates", err)
		for cell := range missingIdx {
			i, j := cell[0], cell[1]
			table[i][j] = o.fallbackEstimate(points[i], points[j])
		}
		return table, degraded
	}

	scale := o.peakScale()
	for cell := range missingIdx {
		i, j := cell[0], cell[1]
		r := Result{Seconds: int(float64(full[i][j]) * scale)}
		table[i][j] = r
		key := cacheKey(points[i], points[j], profile)
		o.mem.set(key, r, o.cfg.MemoryCacheTTL)
		o.writePersistent(key, r)
	}
	return table, nil
}

func (o *oracle) fallbackEstimate(a, b model.Point) Result {
	d := haversineM(a, b)
	seconds := int(d / o.cfg.FallbackSpeedMPS * o.cfg.FallbackInflation)
	return Result{Seconds: seconds, EstimateFlagged: true}
}

// callWithRetry retries fn with capped exponential backoff and ±20% jitter,
// honoring a shared rate limiter so bursts of planner lookups don't exceed
// the backend's quota. Business errors are never routed through this path;
// only Oracle's own backend calls are.
func callWithRetry[T any](ctx context.Context, limiter *rate.Limiter, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := cfg.BaseBackoff
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == cfg.MaxRetries-1 {
			break
		}
		jitter := 1 + (rand.Float64()*0.4 - 0.2)
		select {
		case <-time.After(time.Duration(float64(backoff) * jitter)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
	}
	return zero, lastErr
}

func (o *oracle) distanceMatrixOne(ctx context.Context, origin, dest model.Point, profile Profile) (int, error) {
	if o.client == nil {
		return 0, fmt.Errorf("no routing backend configured")
	}
	req := &gmaps.DistanceMatrixRequest{
		Origins:      []string{latLngString(origin)},
		Destinations: []string{latLngString(dest)},
		Mode:         travelMode(profile),
	}
	resp, err := o.client.DistanceMatrix(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("distance matrix request: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix: empty response")
	}
	elem := resp.Rows[0].Elements[0]
	if elem.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %q", elem.Status)
	}
	return int(elem.Duration.Seconds()), nil
}

func (o *oracle) callDistanceMatrixFull(ctx context.Context, origins, dests []model.Point, profile Profile) ([][]int, error) {
	if o.client == nil {
		return nil, fmt.Errorf("no routing backend configured")
	}
	originStrs := make([]string, len(origins))
	for i, p := range origins {
		originStrs[i] = latLngString(p)
	}
	destStrs := make([]string, len(dests))
	for i, p := range dests {
		destStrs[i] = latLngString(p)
	}

	req := &gmaps.DistanceMatrixRequest{
		Origins:      originStrs,
		Destinations: destStrs,
		Mode:         travelMode(profile),
	}
	resp, err := o.client.DistanceMatrix(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("distance matrix table request: %w", err)
	}

	table := make([][]int, len(origins))
	for i, row := range resp.Rows {
		table[i] = make([]int, len(dests))
		for j, elem := range row.Elements {
			if elem.Status != "OK" {
				continue
			}
			table[i][j] = int(elem.Duration.Seconds())
		}
	}
	return table, nil
}

func travelMode(p Profile) gmaps.Mode {
	switch p {
	case ProfileWalking:
		return gmaps.TravelModeWalking
	case ProfileTransit:
		return gmaps.TravelModeTransit
	case ProfileBicycle:
		return gmaps.TravelModeBicycling
	default:
		return gmaps.TravelModeDriving
	}
}

func latLngString(p model.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lon)
}

// cacheKey canonicalizes an (origin, dest, profile) triple to the 5-decimal
// (~1m) rounding, so two coordinate pairs within a
// meter of each other collide on the same cache entry.
func cacheKey(origin, dest model.Point, profile Profile) string {
	return fmt.Sprintf("%s:%.5f,%.5f->%.5f,%.5f", profile, origin.Lat, origin.Lon, dest.Lat, dest.Lon)
}

func (o *oracle) readPersistent(key string) (Result, bool) {
	entry, err := orm.GetCacheEntry(o.db, key)
	if err != nil {
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(entry.Value, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

func (o *oracle) writePersistent(key string, r Result) {
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	_ = orm.SetCacheEntry(o.db, key, payload, o.cfg.PersistentTTL)
}

// haversineM returns the great-circle distance between a and b in meters.
func haversineM(a, b model.Point) float64 {
	const earthRadiusM = 6371000.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}
