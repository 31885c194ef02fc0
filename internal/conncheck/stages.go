package conncheck

import "sync"

// Snapshot is a point-in-time copy of the three stage verdicts.
type Snapshot struct {
	Internet Verdict `json:"internet"`
	API      Verdict `json:"api"`
	Account  Verdict `json:"account"`
}

// Stages is the shared stage record. Writes carry the generation of the
// check cycle that produced them; a write from a superseded cycle is
// discarded, so a cancelled cycle's late probe results can never corrupt
// the record of the cycle that replaced it.
type Stages struct {
	mu       sync.RWMutex
	gen      uint64
	internet Verdict
	api      Verdict
	account  Verdict
}

func NewStages() *Stages {
	return &Stages{
		internet: VerdictUnknown,
		api:      VerdictUnknown,
		account:  VerdictUnknown,
	}
}

// BeginCycle resets every stage to unknown and returns the new generation.
func (s *Stages) BeginCycle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.internet = VerdictUnknown
	s.api = VerdictUnknown
	s.account = VerdictUnknown
	return s.gen
}

// Set records a verdict for the given cycle generation. It reports whether
// the write was applied; stale generations are ignored.
func (s *Stages) Set(gen uint64, stage Stage, v Verdict) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	switch stage {
	case StageInternet:
		s.internet = v
	case StageAPI:
		s.api = v
	case StageAccount:
		s.account = v
	}
	return true
}

// ForceSuccess supersedes any in-flight cycle and marks all stages
// successful, the bypass override.
func (s *Stages) ForceSuccess() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.internet = VerdictSuccess
	s.api = VerdictSuccess
	s.account = VerdictSuccess
	return s.gen
}

// MarkInternetLost supersedes any in-flight cycle and records a confirmed
// loss of connectivity: internet failed, later stages back to unknown.
func (s *Stages) MarkInternetLost() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.internet = VerdictFailed
	s.api = VerdictUnknown
	s.account = VerdictUnknown
	return s.gen
}

func (s *Stages) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Internet: s.internet, API: s.api, Account: s.account}
}

func (s *Stages) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}
