package imagecache

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// Width is a requested decode width in pixels. The zero value, Original,
// means the natural size of the image.
type Width int

// Original requests the image at its natural size.
const Original Width = 0

// String returns "original" for Original and the pixel count otherwise.
func (w Width) String() string {
	if w <= Original {
		return "original"
	}
	return strconv.Itoa(int(w))
}

// IsOriginal reports whether w requests the unconstrained size.
func (w Width) IsOriginal() bool {
	return w <= Original
}

// ParseWidth parses "original", "" or a positive pixel count.
func ParseWidth(s string) (Width, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "original") {
		return Original, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Original, fmt.Errorf("%w: %q", ErrInvalidWidth, s)
	}
	return Width(n), nil
}

// MarshalJSON encodes Original as the string "original" and any other width as a number.
func (w Width) MarshalJSON() ([]byte, error) {
	if w.IsOriginal() {
		return []byte(`"original"`), nil
	}
	return []byte(strconv.Itoa(int(w))), nil
}

// UnmarshalJSON accepts either a number or the string "original".
func (w *Width) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseWidth(s)
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWidth, string(data))
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, n)
	}
	*w = Width(n)
	return nil
}

// Priority selects which download queue a task joins.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityOrder is the admission order of the queues.
var priorityOrder = [...]Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority parses a priority name. An empty string means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

func (p Priority) index() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Status is the lifecycle state of a Variation.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusQueued  Status = "queued"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// QueueKey identifies one (url, width) unit of work. It is the
// deduplication boundary for queued and in-flight downloads.
type QueueKey string

// KeyFor builds the queue key for url at width.
func KeyFor(url string, width Width) QueueKey {
	return QueueKey(url + "|" + width.String())
}

// ImageTask is a unit of fetch work waiting in a download queue.
type ImageTask struct {
	URL      string   `json:"url"`
	ReqWidth Width    `json:"reqWidth"`
	Priority Priority `json:"priority"`
	Blurhash string   `json:"blurhash,omitempty"`
}

// Key returns the task's queue key.
func (t ImageTask) Key() QueueKey {
	return KeyFor(t.URL, t.ReqWidth)
}

// ImageSource is a decoded image ready to render.
type ImageSource struct {
	URL    string      `json:"url"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Format string      `json:"format,omitempty"`
	Bytes  int         `json:"bytes"`
	Image  image.Image `json:"-"`
}

// Variation is the cached state of one (url, width) pair.
type Variation struct {
	ReqWidth Width        `json:"reqWidth"`
	Status   Status       `json:"status"`
	Source   *ImageSource `json:"source,omitempty"`
}

// CacheEntry holds every variation ever requested for a URL.
type CacheEntry struct {
	Variations []Variation `json:"variations"`
	Blurhash   string      `json:"blurhash,omitempty"`
}

func (e *CacheEntry) variation(width Width) *Variation {
	for i := range e.Variations {
		if e.Variations[i].ReqWidth == width {
			return &e.Variations[i]
		}
	}
	return nil
}

func (e *CacheEntry) clone() CacheEntry {
	out := CacheEntry{Blurhash: e.Blurhash}
	out.Variations = append([]Variation(nil), e.Variations...)
	return out
}

// ActiveDownloadMeta is the bookkeeping for an admitted download.
type ActiveDownloadMeta struct {
	StartTime time.Time
	Timeout   time.Duration
}

// Deadline is the instant after which the download counts as failed.
func (m ActiveDownloadMeta) Deadline() time.Time {
	return m.StartTime.Add(m.Timeout)
}

// Remaining is the time left before the deadline, never negative.
func (m ActiveDownloadMeta) Remaining(now time.Time) time.Duration {
	if r := m.Deadline().Sub(now); r > 0 {
		return r
	}
	return 0
}

type activeDownloadMetaJSON struct {
	StartTime int64 `json:"startTime"`
	TimeoutMs int64 `json:"timeoutMs"`
}

// MarshalJSON encodes the start time as epoch milliseconds.
func (m ActiveDownloadMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(activeDownloadMetaJSON{
		StartTime: m.StartTime.UnixMilli(),
		TimeoutMs: m.Timeout.Milliseconds(),
	})
}

// DownloadQueues is a point-in-time copy of the three queues.
type DownloadQueues struct {
	High   []ImageTask `json:"high"`
	Normal []ImageTask `json:"normal"`
	Low    []ImageTask `json:"low"`
}

// Len is the total number of pending tasks.
func (q DownloadQueues) Len() int {
	return len(q.High) + len(q.Normal) + len(q.Low)
}

// Stats are session statistics. They are never persisted.
type Stats struct {
	Fetched      map[QueueKey]int
	LoadingTimes map[QueueKey][]time.Duration
}

func newStats() Stats {
	return Stats{
		Fetched:      make(map[QueueKey]int),
		LoadingTimes: make(map[QueueKey][]time.Duration),
	}
}

func (s Stats) clone() Stats {
	out := newStats()
	for k, v := range s.Fetched {
		out.Fetched[k] = v
	}
	for k, v := range s.LoadingTimes {
		out.LoadingTimes[k] = append([]time.Duration(nil), v...)
	}
	return out
}

// TotalFetched is the number of completed fetches across every key.
func (s Stats) TotalFetched() int {
	total := 0
	for _, n := range s.Fetched {
		total += n
	}
	return total
}

// AverageLoadingTime returns the mean of the recorded samples for key.
func (s Stats) AverageLoadingTime(key QueueKey) (time.Duration, bool) {
	samples := s.LoadingTimes[key]
	if len(samples) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples)), true
}

type statsJSON struct {
	Fetched      map[QueueKey]int       `json:"fetched"`
	LoadingTimes map[QueueKey][]float64 `json:"loadingTimes"`
}

// MarshalJSON encodes loading times as fractional milliseconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	out := statsJSON{
		Fetched:      s.Fetched,
		LoadingTimes: make(map[QueueKey][]float64, len(s.LoadingTimes)),
	}
	if out.Fetched == nil {
		out.Fetched = map[QueueKey]int{}
	}
	for k, samples := range s.LoadingTimes {
		ms := make([]float64, len(samples))
		for i, d := range samples {
			ms[i] = float64(d) / float64(time.Millisecond)
		}
		out.LoadingTimes[k] = ms
	}
	return json.Marshal(out)
}

// Snapshot is a deep copy of the store for introspection tooling.
type Snapshot struct {
	Cache              map[string]CacheEntry           `json:"cache"`
	DownloadQueues     DownloadQueues                  `json:"downloadQueues"`
	ActiveDownloadMeta map[QueueKey]ActiveDownloadMeta `json:"activeDownloadMeta"`
	Stats              Stats                           `json:"stats"`
}

// Rendition is what a consumer should draw right now: a decoded source
// when any variation is loaded, and the best-known blurhash.
type Rendition struct {
	Source   *ImageSource `json:"source,omitempty"`
	ReqWidth Width        `json:"reqWidth"`
	Blurhash string       `json:"blurhash,omitempty"`
}

// IsPlaceholder reports whether only the blurhash is available.
func (r *Rendition) IsPlaceholder() bool {
	return r != nil && r.Source == nil
}
