package metrics

// Metric names emitted by the edit pipeline.
const (
	EditCreated      = "EditCreated"
	UploadBytes      = "UploadBytes"
	CacheHit         = "CacheHit"
	CacheMiss        = "CacheMiss"
	AttemptFailed    = "AttemptFailed"
	AttemptMs        = "AttemptMs"
	GenerateMs       = "GenerateMs"
	AnalyzeMs        = "AnalyzeMs"
	AnalysisFallback = "AnalysisFallback"
	WorkerMs         = "WorkerMs"
	WorkerError      = "WorkerError"
)

// Attempt returns a Recorder for one edit attempt of kind, tagged with the
// edit and attempt IDs as searchable properties.
func Attempt(kind, editID, attemptID string) *Recorder {
	return Edit(kind).Property("editId", editID).Property("attemptId", attemptID)
}

// CacheResult counts a lookup as a CacheHit or CacheMiss.
func (r *Recorder) CacheResult(hit bool) *Recorder {
	if hit {
		return r.Count(CacheHit)
	}
	return r.Count(CacheMiss)
}
