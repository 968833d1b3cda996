package models

import "time"

// SyncResult is the transient outcome of one sync pass. It is returned to
// callers and published to trigger subscribers; it is never persisted.
type SyncResult struct {
	Success    bool      `json:"success"`
	Downloaded int       `json:"downloaded"`
	Uploaded   int       `json:"uploaded"`
	Conflicts  int       `json:"conflicts"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// NewSyncResult creates an empty successful result stamped with now
func NewSyncResult() *SyncResult {
	return &SyncResult{
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
}

// Fail marks the result failed with the given error
func (r *SyncResult) Fail(err error) *SyncResult {
	r.Success = false
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Merge folds another pass result into this one. Used by FullSync to
// combine the pull and push halves; failure is sticky.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	r.Downloaded += other.Downloaded
	r.Uploaded += other.Uploaded
	r.Conflicts += other.Conflicts
	r.Skipped += other.Skipped
	r.Errors += other.Errors
	if !other.Success {
		r.Success = false
		if r.Error == "" {
			r.Error = other.Error
		}
	}
	if other.Timestamp.After(r.Timestamp) {
		r.Timestamp = other.Timestamp
	}
}
