// Package deploy runs a project bundle's backend and frontend as local OS
// processes on fixed ports and tears them down again.
package deploy

import (
	"encoding/json"
	"sync"
	"time"
)

// ServiceKind identifies which tier of a bundle a process serves
type ServiceKind string

const (
	KindBackend  ServiceKind = "backend"
	KindFrontend ServiceKind = "frontend"
)

// ServiceState is the lifecycle state of a ServiceProcess
type ServiceState int

const (
	StateStarting ServiceState = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s ServiceState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ServiceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowed lists the legal transitions out of each state
var allowed = map[ServiceState][]ServiceState{
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateStopped},
	StateStopping: {StateStopped},
}

// ServiceProcess is one launched service. The manager owns it; state changes
// go through transition.
type ServiceProcess struct {
	Kind      ServiceKind
	PID       int
	Port      int
	URL       string
	StartedAt time.Time

	proc Process

	mu    sync.Mutex
	state ServiceState
}

func newServiceProcess(kind ServiceKind, port int, url string) *ServiceProcess {
	return &ServiceProcess{Kind: kind, Port: port, URL: url, state: StateStarting}
}

// State returns the current lifecycle state
func (s *ServiceProcess) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves to next if the move is legal and reports whether it happened
func (s *ServiceProcess) transition(next ServiceState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, to := range allowed[s.state] {
		if to == next {
			s.state = next
			return true
		}
	}
	return false
}

// Output returns the tail of the process's combined stdout/stderr
func (s *ServiceProcess) Output() string {
	if s.proc == nil {
		return ""
	}
	return s.proc.Output()
}

// ServiceStatus is a point-in-time view of a ServiceProcess
type ServiceStatus struct {
	Kind      ServiceKind  `json:"kind"`
	PID       int          `json:"pid"`
	Port      int          `json:"port"`
	URL       string       `json:"url"`
	State     ServiceState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
}

// Status snapshots the process
func (s *ServiceProcess) Status() ServiceStatus {
	return ServiceStatus{
		Kind:      s.Kind,
		PID:       s.PID,
		Port:      s.Port,
		URL:       s.URL,
		State:     s.State(),
		StartedAt: s.StartedAt,
	}
}

// DeploymentRecord pairs the backend and frontend of one deploy
type DeploymentRecord struct {
	DeploymentID string
	BundleID     string
	BundlePath   string
	Backend      *ServiceProcess
	Frontend     *ServiceProcess
	CreatedAt    time.Time
}

// URLs returns the service endpoints keyed by kind
func (r *DeploymentRecord) URLs() map[string]string {
	return map[string]string{
		string(KindBackend):  r.Backend.URL,
		string(KindFrontend): r.Frontend.URL,
	}
}

// Active reports whether either service is still starting or running
func (r *DeploymentRecord) Active() bool {
	for _, s := range []*ServiceProcess{r.Backend, r.Frontend} {
		switch s.State() {
		case StateStarting, StateRunning:
			return true
		}
	}
	return false
}

// RecordStatus is the serializable view of a DeploymentRecord
type RecordStatus struct {
	DeploymentID string            `json:"deployment_id"`
	BundleID     string            `json:"bundle_id"`
	BundlePath   string            `json:"bundle_path"`
	Backend      ServiceStatus     `json:"backend"`
	Frontend     ServiceStatus     `json:"frontend"`
	URLs         map[string]string `json:"urls"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Status snapshots the record
func (r *DeploymentRecord) Status() RecordStatus {
	return RecordStatus{
		DeploymentID: r.DeploymentID,
		BundleID:     r.BundleID,
		BundlePath:   r.BundlePath,
		Backend:      r.Backend.Status(),
		Frontend:     r.Frontend.Status(),
		URLs:         r.URLs(),
		CreatedAt:    r.CreatedAt,
	}
}

func (r *DeploymentRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Status())
}
