package lifecycle

// Status is a joke's position in the curation workflow. The order below is the
// order of progress; privileged actors may skip intermediate states.
type Status string

const (
	StatusExtracted             Status = "extracted"
	StatusExtractionVerified    Status = "extraction-verified"
	StatusAutoTranscribed       Status = "auto-transcribed"
	StatusTranscribed           Status = "transcribed"
	StatusTranscriptionVerified Status = "transcription-verified"
	StatusCategoryVerified      Status = "category-verified"
	StatusAnnotated             Status = "annotated"
	StatusAnnotationVerified    Status = "annotation-verified"
	StatusPublished             Status = "published"
)

var statusRank = map[Status]int{
	StatusExtracted:             0,
	StatusExtractionVerified:    1,
	StatusAutoTranscribed:       2,
	StatusTranscribed:           3,
	StatusTranscriptionVerified: 4,
	StatusCategoryVerified:      5,
	StatusAnnotated:             6,
	StatusAnnotationVerified:    7,
	StatusPublished:             8,
}

// Known reports whether s is one of the enumerated workflow states.
func (s Status) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s is strictly earlier in the workflow than other.
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

// AtLeast reports whether s has reached other.
func (s Status) AtLeast(other Status) bool {
	return statusRank[s] >= statusRank[other]
}

// advance returns the later of the two states. Curation never moves a joke
// backwards except through an explicit coordinate change.
func advance(current, proposed Status) Status {
	if current.Before(proposed) {
		return proposed
	}
	return current
}
