package lifecycle

import "testing"

func TestStatusOrdering(t *testing.T) {
	order := []Status{
		StatusExtracted,
		StatusExtractionVerified,
		StatusAutoTranscribed,
		StatusTranscribed,
		StatusTranscriptionVerified,
		StatusCategoryVerified,
		StatusAnnotated,
		StatusAnnotationVerified,
		StatusPublished,
	}
	for i, s := range order {
		if !s.Known() {
			t.Errorf("%s not known", s)
		}
		for j, other := range order {
			if got := s.Before(other); got != (i < j) {
				t.Errorf("%s.Before(%s) = %v, want %v", s, other, got, i < j)
			}
			if got := s.AtLeast(other); got != (i >= j) {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", s, other, got, i >= j)
			}
		}
	}
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	if got := advance(StatusPublished, StatusTranscribed); got != StatusPublished {
		t.Errorf("advance(published, transcribed) = %s", got)
	}
	if got := advance(StatusExtracted, StatusAutoTranscribed); got != StatusAutoTranscribed {
		t.Errorf("advance(extracted, auto-transcribed) = %s", got)
	}
	if got := advance(StatusTranscribed, StatusTranscribed); got != StatusTranscribed {
		t.Errorf("advance(transcribed, transcribed) = %s", got)
	}
}

func TestUnknownStatusNotKnown(t *testing.T) {
	if Status("archived").Known() {
		t.Error("archived should not be a known status")
	}
	if Status("").Known() {
		t.Error("empty status should not be known")
	}
}
