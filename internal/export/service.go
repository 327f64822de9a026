package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"jestbook/api/internal/lifecycle"
	"jestbook/api/internal/store"
)

// DataStore is the subset of the store the exporter needs.
type DataStore interface {
	GetJoke(ctx context.Context, id string) (store.Joke, error)
	GetSource(ctx context.Context, id string) (store.Source, error)
}

// Service renders jokes to downloadable documents.
type Service struct {
	store        DataStore
	chromiumPath string
}

func NewService(st DataStore, chromiumPath string) *Service {
	return &Service{store: st, chromiumPath: chromiumPath}
}

// Export renders the joke named by req. The annotated transcription is
// preferred; jokes that have not reached transcription-verified yet have
// nothing exportable.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	joke, err := s.store.GetJoke(ctx, req.JokeID)
	if err != nil {
		return nil, fmt.Errorf("load joke: %w", err)
	}

	content, ok := joke.Transcriptions["annotated"]
	if !ok {
		content, ok = joke.Transcriptions["final"]
	}
	if !ok {
		return nil, ErrContentUnavailable
	}

	data := TemplateData{
		Title:       joke.Title,
		ContentHTML: toTemplateHTML(RichTextToHTML(content)),
		Categories:  joke.Categories,
		Status:      joke.Status,
		ExportedAt:  time.Now().Format("2 January 2006"),
	}

	if source, err := s.store.GetSource(ctx, joke.SourceID); err == nil {
		data.SourceTitle = source.Title
		data.Publication = source.Publication
	}

	if req.IncludeActivity {
		data.Activity = activityLines(joke.Activity)
	}

	html, err := RenderJokeHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render joke html: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     html,
			Filename: sanitizeFilename(joke.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(string(html), joke.Title, s.chromiumPath)
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
}

func toTemplateHTML(s string) template.HTML {
	// RichTextToHTML escapes all user text; the remaining markup is ours.
	return template.HTML(s)
}

// activityLines flattens the audit trail into display order.
func activityLines(a lifecycle.Activity) []ActivityLine {
	var lines []ActivityLine
	single := func(action string, rec *lifecycle.ActivityRecord) {
		if rec != nil {
			lines = append(lines, ActivityLine{
				Action: action,
				Actor:  rec.User,
				At:     rec.At.Format("2006-01-02 15:04"),
			})
		}
	}
	multi := func(action string, recs []lifecycle.ActivityRecord) {
		for _, rec := range recs {
			lines = append(lines, ActivityLine{
				Action: action,
				Actor:  rec.User,
				At:     rec.At.Format("2006-01-02 15:04"),
			})
		}
	}
	single("extracted", a.Extracted)
	single("extraction-verified", a.ExtractionVerified)
	multi("transcribed", a.Transcribed)
	single("transcription-verified", a.TranscriptionVerified)
	single("category-verified", a.CategoryVerified)
	multi("annotated", a.Annotated)
	single("annotation-verified", a.AnnotationVerified)
	single("published", a.Published)
	return lines
}
