package coord

import (
	"os"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/proc"
	"github.com/browsergate/browsergate/internal/profile"
	"go.uber.org/zap"
)

// Rendezvous is the cached debug-endpoint hint for late-joining processes.
type Rendezvous struct {
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	PID       int     `json:"pid"`
	WrittenAt float64 `json:"written_at"`
}

// RendezvousFile reads and writes the per-profile rendezvous hint. The hint
// is only a hint: Read validates age, owning-pid liveness, and that the
// port still answers before trusting it.
type RendezvousFile struct {
	paths profile.Paths
	ttl   time.Duration
	alive func(pid int) bool
	probe func(host string, port int, timeout time.Duration) bool
	now   func() time.Time
	log   *logging.Logger
}

// NewRendezvousFile creates the rendezvous accessor for one profile key.
func NewRendezvousFile(paths profile.Paths, ttl time.Duration, log *logging.Logger) *RendezvousFile {
	if log == nil {
		log = logging.NewNop()
	}
	return &RendezvousFile{
		paths: paths,
		ttl:   ttl,
		alive: proc.Alive,
		probe: proc.PortOpen,
		now:   time.Now,
		log:   log.Component("rendezvous"),
	}
}

// Read returns a validated rendezvous, or ok=false when the file is absent,
// unparseable, expired, the writer is dead, or the port no longer answers.
func (f *RendezvousFile) Read() (Rendezvous, bool) {
	var rv Rendezvous
	if !readJSON(f.paths.Rendezvous(), &rv) {
		return Rendezvous{}, false
	}
	if rv.Host == "" || rv.Port == 0 {
		return Rendezvous{}, false
	}

	age := f.unixNow() - rv.WrittenAt
	if age > f.ttl.Seconds() {
		f.log.Debug("rendezvous expired", zap.Float64("age_secs", age))
		return Rendezvous{}, false
	}
	if rv.PID != 0 && !f.alive(rv.PID) {
		f.log.Debug("rendezvous writer dead", zap.Int("pid", rv.PID))
		return Rendezvous{}, false
	}
	if !f.probe(rv.Host, rv.Port, 250*time.Millisecond) {
		f.log.Debug("rendezvous port closed",
			zap.String("host", rv.Host), zap.Int("port", rv.Port))
		return Rendezvous{}, false
	}
	return rv, true
}

// Write persists the endpoint. Failure is logged, not fatal: the fallback
// is a slower startup for the next joiner, not incorrectness.
func (f *RendezvousFile) Write(host string, port, pid int) {
	rv := Rendezvous{Host: host, Port: port, PID: pid, WrittenAt: f.unixNow()}
	if err := writeJSONAtomic(f.paths.Rendezvous(), rv); err != nil {
		f.log.Warn("rendezvous write failed", zap.Error(err))
	}
}

// Clear removes the rendezvous file.
func (f *RendezvousFile) Clear() {
	if err := os.Remove(f.paths.Rendezvous()); err != nil && !os.IsNotExist(err) {
		f.log.Debug("rendezvous removal failed", zap.Error(err))
	}
}

func (f *RendezvousFile) unixNow() float64 {
	return float64(f.now().UnixNano()) / float64(time.Second)
}
