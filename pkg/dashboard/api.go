package dashboard

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/server"
)

// Snapshot is the server state as of one frame.
type Snapshot struct {
	Captured    time.Time
	Map         string
	Time        float64
	Frames      uint64
	Fingerprint types.Fingerprint
	CRC         uint16
	Edicts      edict.Stats
	Capacity    int
	LastError   string
	HunkUsed    int
	HunkSize    int
	Entities    []EdictBrief
}

// EdictBrief describes one entity slot.
type EdictBrief struct {
	Index     int               `json:"index"`
	Free      bool              `json:"free"`
	ClassName string            `json:"classname,omitempty"`
	Origin    types.Vec3        `json:"origin"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Capture copies the observable state of srv. It must run on the goroutine
// that owns srv. A server with no program loaded yields nil.
func Capture(srv *server.Server) *Snapshot {
	img := srv.Image()
	pool := srv.Pool()
	if img == nil || pool == nil {
		return nil
	}
	s := &Snapshot{
		Captured:    time.Now(),
		Map:         srv.MapName(),
		Time:        srv.Time(),
		Frames:      srv.Frames(),
		Fingerprint: img.Fingerprint,
		CRC:         img.CRC,
		Edicts:      pool.Stats(),
		Capacity:    pool.Capacity(),
		HunkUsed:    srv.Hunk().Used(),
		HunkSize:    srv.Hunk().Size(),
	}
	if err := srv.LastError(); err != nil {
		s.LastError = err.Error()
	}

	f := pool.Fields()
	codec := srv.Codec()
	s.Entities = make([]EdictBrief, 0, pool.Count())
	for i := 0; i < pool.Count(); i++ {
		e, err := pool.Num(i)
		if err != nil {
			break
		}
		b := EdictBrief{Index: i, Free: e.IsFree()}
		if !b.Free {
			if f.ClassName >= 0 {
				b.ClassName = img.Strings.Lookup(e.Int(f.ClassName))
			}
			if f.Origin >= 0 {
				b.Origin = e.Vector(f.Origin)
			}
			b.Fields = make(map[string]string)
			for _, p := range codec.Epairs(e) {
				b.Fields[p.Key] = p.Value
			}
		}
		s.Entities = append(s.Entities, b)
	}
	return s
}

// StatusResponse is the /api/status response.
type StatusResponse struct {
	Loaded      bool    `json:"loaded"`
	Map         string  `json:"map"`
	Time        float64 `json:"time"`
	Frames      uint64  `json:"frames"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	CRC         uint16  `json:"crc"`
	NumEdicts   int     `json:"num_edicts"`
	Active      int     `json:"active"`
	Models      int     `json:"models"`
	Solid       int     `json:"solid"`
	Step        int     `json:"step"`
	Capacity    int     `json:"capacity"`
	LastError   string  `json:"last_error,omitempty"`
	Age         string  `json:"age,omitempty"`
	Uptime      string  `json:"uptime"`
}

// EdictsResponse is the /api/edicts response.
type EdictsResponse struct {
	Edicts []EdictBrief `json:"edicts"`
	Total  int          `json:"total"`
}

// MetricsResponse is the /api/metrics response.
type MetricsResponse struct {
	MemAlloc      uint64 `json:"mem_alloc"`
	MemTotalAlloc uint64 `json:"mem_total_alloc"`
	MemSys        uint64 `json:"mem_sys"`
	MemHeapInuse  uint64 `json:"mem_heap_inuse"`
	MemHeapIdle   uint64 `json:"mem_heap_idle"`
	NumGC         uint32 `json:"num_gc"`

	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`

	Frames   uint64 `json:"frames"`
	HunkUsed int    `json:"hunk_used"`
	HunkSize int    `json:"hunk_size"`
}

func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Uptime: formatDuration(time.Since(d.startTime))}
	if s := d.snapshot(); s != nil {
		resp.Loaded = true
		resp.Map = s.Map
		resp.Time = s.Time
		resp.Frames = s.Frames
		resp.Fingerprint = s.Fingerprint.String()
		resp.CRC = s.CRC
		resp.NumEdicts = s.Edicts.Num
		resp.Active = s.Edicts.Active
		resp.Models = s.Edicts.Models
		resp.Solid = s.Edicts.Solid
		resp.Step = s.Edicts.Step
		resp.Capacity = s.Capacity
		resp.LastError = s.LastError
		resp.Age = formatDuration(time.Since(s.Captured))
	}
	writeJSON(w, resp)
}

// handleAPIEdicts lists entity slots without their field values. Free
// slots are skipped unless ?free=1.
func (d *Dashboard) handleAPIEdicts(w http.ResponseWriter, r *http.Request) {
	s := d.snapshot()
	if s == nil {
		writeError(w, "no program loaded", http.StatusServiceUnavailable)
		return
	}
	withFree := r.URL.Query().Get("free") == "1"
	resp := EdictsResponse{Edicts: []EdictBrief{}, Total: len(s.Entities)}
	for _, e := range s.Entities {
		if e.Free && !withFree {
			continue
		}
		e.Fields = nil
		resp.Edicts = append(resp.Edicts, e)
	}
	writeJSON(w, resp)
}

func (d *Dashboard) handleAPIEdict(w http.ResponseWriter, r *http.Request) {
	s := d.snapshot()
	if s == nil {
		writeError(w, "no program loaded", http.StatusServiceUnavailable)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, "Invalid edict number", http.StatusBadRequest)
		return
	}
	if n < 0 || n >= len(s.Entities) {
		writeError(w, "Bad edict number", http.StatusNotFound)
		return
	}
	writeJSON(w, s.Entities[n])
}

func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		MemHeapIdle:   memStats.HeapIdle,
		NumGC:         memStats.NumGC,

		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	if s := d.snapshot(); s != nil {
		resp.Frames = s.Frames
		resp.HunkUsed = s.HunkUsed
		resp.HunkSize = s.HunkSize
	}
	writeJSON(w, resp)
}
