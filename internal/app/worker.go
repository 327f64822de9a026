package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"jestbook/api/internal/dispatch"
	"jestbook/api/internal/export"
	"jestbook/api/internal/lifecycle"
	"jestbook/api/internal/media"
	"jestbook/api/internal/ocr"
	"jestbook/api/internal/search"
	"jestbook/api/internal/store"
)

// HandleDispatch is the worker entry point for one dispatch stream message.
// A returned error leaves the message pending for redelivery.
func (s *Service) HandleDispatch(ctx context.Context, msg dispatch.Message) error {
	switch msg.Topic {
	case lifecycle.TopicOCR:
		return s.handleOCR(ctx, msg.JokeID)
	case lifecycle.TopicCategorise:
		return s.handleCategorise(ctx, msg.JokeID)
	case lifecycle.TopicPublish:
		return s.handlePublish(ctx, msg.JokeID)
	default:
		log.Printf("dropping message on unknown topic %q joke=%s", msg.Topic, msg.JokeID)
		return nil
	}
}

// handleOCR crops the joke region out of its source scan, runs it through the
// OCR sidecar, and stores the result as the auto transcription. A joke whose
// extraction is already verified advances to auto-transcribed.
func (s *Service) handleOCR(ctx context.Context, jokeID string) error {
	joke, err := s.store.GetJoke(ctx, jokeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	imageData, err := s.FetchSourceImage(ctx, joke.SourceID)
	if err != nil {
		return fmt.Errorf("fetch source %s: %w", joke.SourceID, err)
	}

	crop, err := media.Crop(imageData, joke.Coordinates)
	if err != nil {
		return fmt.Errorf("crop joke %s: %w", jokeID, err)
	}
	if err := s.media.Put(ctx, media.CropKey(jokeID), crop, "image/png"); err != nil {
		return fmt.Errorf("store crop %s: %w", jokeID, err)
	}

	text, err := s.ocr.Recognize(ctx, crop)
	if err != nil {
		return fmt.Errorf("ocr joke %s: %w", jokeID, err)
	}
	doc := ocr.Document(text)

	return s.updateJokeWithRetry(ctx, jokeID, func(j *store.Joke) {
		if j.Transcriptions == nil {
			j.Transcriptions = make(map[string]json.RawMessage)
		}
		j.Transcriptions[lifecycle.TranscriptionAuto] = doc
		if lifecycle.Status(j.Status) == lifecycle.StatusExtractionVerified {
			j.Status = string(lifecycle.StatusAutoTranscribed)
		}
	})
}

// handleCategorise fills in suggested categories and a working title from the
// verified transcription. Suggestions never overwrite editor-submitted values.
func (s *Service) handleCategorise(ctx context.Context, jokeID string) error {
	joke, err := s.store.GetJoke(ctx, jokeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	final, ok := joke.Transcriptions[lifecycle.TranscriptionFinal]
	if !ok {
		return nil
	}
	text := export.RichTextToPlain(final)
	if text == "" {
		return nil
	}

	suggested := SuggestCategories(text)
	title := titleFromText(text)

	return s.updateJokeWithRetry(ctx, jokeID, func(j *store.Joke) {
		if len(j.Categories) == 0 && len(suggested) > 0 {
			j.Categories = suggested
		}
		if j.Title == lifecycle.UntitledTitle && title != "" {
			j.Title = title
		}
	})
}

// handlePublish indexes the freshly published joke for search and notifies
// the original extractor by email.
func (s *Service) handlePublish(ctx context.Context, jokeID string) error {
	joke, err := s.store.GetJoke(ctx, jokeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if joke.Status != string(lifecycle.StatusPublished) {
		return nil
	}

	s.search.IndexJoke(search.JokeRecord{
		ID:         joke.ID,
		Title:      joke.Title,
		Text:       jokeSearchText(joke),
		SourceID:   joke.SourceID,
		Status:     joke.Status,
		Categories: joke.Categories,
	})

	if s.SMTPConfigured() && joke.Activity.Extracted != nil {
		user, err := s.store.GetUserByID(ctx, joke.Activity.Extracted.User)
		if err == nil && user.Email != "" {
			jokeURL := s.cfg.PublicBaseURL + "/jokes/" + joke.ID
			if err := s.mail.SendJokePublishedEmail(user.Email, user.DisplayName, joke.Title, jokeURL); err != nil {
				log.Printf("publish notification failed joke=%s: %v", joke.ID, err)
			}
		}
	}
	return nil
}

// updateJokeWithRetry applies a system-side mutation under the store's
// revision check, re-reading on conflict. Curation state set by users wins
// over worker output, so lost attempts simply re-apply against fresh data.
func (s *Service) updateJokeWithRetry(ctx context.Context, jokeID string, mutate func(*store.Joke)) error {
	for attempt := 0; attempt < applyRetries; attempt++ {
		joke, err := s.store.GetJoke(ctx, jokeID)
		if err != nil {
			return err
		}
		mutate(&joke)
		joke.SearchText = jokeSearchText(joke)
		if _, err := s.store.UpdateJoke(ctx, joke); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("joke %s: too many concurrent updates", jokeID)
}

// categoryKeywords maps transcription vocabulary to archive categories. The
// lists reflect the recurring subjects of Victorian joke columns.
var categoryKeywords = map[string][]string{
	"politics":  {"parliament", "minister", "election", "tory", "whig", "politician"},
	"transport": {"omnibus", "carriage", "railway", "horse", "cab", "coach"},
	"marriage":  {"wife", "husband", "marriage", "wedding", "bride", "mother-in-law"},
	"medicine":  {"doctor", "physician", "surgeon", "apothecary", "patient"},
	"law":       {"lawyer", "judge", "court", "barrister", "attorney", "jury"},
	"domestic":  {"servant", "cook", "maid", "butler", "landlady", "lodger"},
	"money":     {"shilling", "sovereign", "pawnbroker", "debt", "banker", "miser"},
	"clergy":    {"parson", "vicar", "curate", "sermon", "churchwarden"},
}

// SuggestCategories proposes up to three category labels for a transcription.
func SuggestCategories(text string) []string {
	lowered := strings.ToLower(text)
	var out []string
	for _, category := range []string{"politics", "transport", "marriage", "medicine", "law", "domestic", "money", "clergy"} {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lowered, keyword) {
				out = append(out, category)
				break
			}
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// titleFromText derives a short working title from the opening words.
func titleFromText(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	words := strings.Fields(line)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 6 {
		words = words[:6]
	}
	title := strings.Join(words, " ")
	title = strings.TrimRight(title, ".,;:!?\"'")
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
