package types

// FileStatus reports what processing a single file actually did.
type FileStatus string

const (
	// FileUpdated means the file was new or its fingerprint changed, and
	// its units were re-extracted and re-stored.
	FileUpdated FileStatus = "updated"
	// FileUpToDate means the recorded fingerprint matched and the file was
	// left untouched.
	FileUpToDate FileStatus = "up_to_date"
	// FileSkipped means the file was excluded before fingerprinting
	// (binary content, not a regular file).
	FileSkipped FileStatus = "skipped"
)

// FileResult is the outcome of processing one file through the indexing
// pipeline.
type FileResult struct {
	Path        string
	Status      FileStatus
	Units       int    // units stored for this file (0 when up to date)
	Fingerprint uint64 // content fingerprint recorded for the file
}

// SearchResult is a single ranked hit returned to a caller.
type SearchResult struct {
	Rank  int     // 1-based position in the result set
	Score float64 // relevance in [0, 1], higher is better

	Unit Unit
}

// Validate checks the result invariants callers rely on.
func (r *SearchResult) Validate() error {
	if r.Rank < 1 {
		return ErrInvalidRank
	}
	if r.Score < 0 || r.Score > 1 {
		return ErrInvalidScore
	}
	return r.Unit.Validate()
}
