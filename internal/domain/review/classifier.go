package review

import (
	"context"
	"fmt"

	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/pkg/classifier"
)

// Classifier judges a claimed submission's screenshots.
type Classifier interface {
	Classify(ctx context.Context, sub *submission.Submission) (submission.Verdict, error)
}

// HTTPClassifier adapts the classifier HTTP client.
type HTTPClassifier struct {
	client *classifier.Client
}

func NewHTTPClassifier(client *classifier.Client) *HTTPClassifier {
	return &HTTPClassifier{client: client}
}

func (c *HTTPClassifier) Classify(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
	req := classifier.Request{
		SubmissionID: sub.ID.String(),
		Type:         string(sub.Type),
		Attempt:      sub.Attempts,
		Images:       make([]classifier.Image, len(sub.Images)),
		Meta:         metaFields(sub.Meta),
	}
	for i, img := range sub.Images {
		req.Images[i] = classifier.Image{URL: img.URL, Hash: img.Hash}
	}

	res, err := c.client.Classify(ctx, req)
	if err != nil {
		return submission.Verdict{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return submission.Verdict{
		Passed:     res.Passed,
		Confidence: res.Confidence,
		Reasons:    res.Reasons,
	}, nil
}

func metaFields(m submission.Meta) map[string]string {
	out := make(map[string]string)
	add := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	add("note_url", m.NoteURL)
	add("note_title", m.NoteTitle)
	add("comment_text", m.CommentText)
	add("lead_name", m.LeadName)
	add("lead_phone", m.LeadPhone)
	add("lead_wechat", m.LeadWechat)
	return out
}
