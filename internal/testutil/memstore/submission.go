package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/submission"
)

// Submissions returns the submission.Repository view of the store.
func (s *Store) Submissions() submission.Repository {
	return &submissionRepo{s: s}
}

type submissionRepo struct {
	s *Store
}

func (r *submissionRepo) Create(ctx context.Context, sub *submission.Submission) error {
	err := r.s.enter("CreateSubmission")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, ok := r.s.data.subs[sub.ID]; ok {
		return fmt.Errorf("submission %s exists", sub.ID)
	}
	seen := make(map[string]bool, len(sub.Images))
	for _, img := range sub.Images {
		if seen[img.Hash] {
			return submission.ErrDuplicateImage
		}
		seen[img.Hash] = true
	}
	r.s.data.subs[sub.ID] = cloneSub(*sub)
	r.s.data.subSeq[sub.ID] = r.s.data.next()
	return nil
}

func (r *submissionRepo) get(id uuid.UUID) (*submission.Submission, error) {
	sub, ok := r.s.data.subs[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	c := cloneSub(sub)
	return &c, nil
}

func (r *submissionRepo) Get(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	err := r.s.enter("GetSubmission")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.get(id)
}

func (r *submissionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	if err := requireTx(ctx, "GetForUpdate"); err != nil {
		return nil, err
	}
	err := r.s.enter("GetForUpdate")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.get(id)
}

func (r *submissionRepo) LockSettled(ctx context.Context, ids []uuid.UUID) ([]*submission.Submission, error) {
	if err := requireTx(ctx, "LockSettled"); err != nil {
		return nil, err
	}
	err := r.s.enter("LockSettled")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*submission.Submission
	for _, id := range ids {
		sub, ok := r.s.data.subs[id]
		if ok && sub.Status == submission.StatusCompleted {
			c := cloneSub(sub)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (r *submissionRepo) Update(ctx context.Context, sub *submission.Submission) error {
	err := r.s.enter("UpdateSubmission")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	stored, ok := r.s.data.subs[sub.ID]
	if !ok {
		return submission.ErrNotFound
	}
	stored.Status = sub.Status
	stored.Attempts = sub.Attempts
	stored.NextCheckAt = cloneTime(sub.NextCheckAt)
	stored.ClaimedAt = cloneTime(sub.ClaimedAt)
	stored.UpdatedAt = sub.UpdatedAt
	r.s.data.subs[sub.ID] = stored
	return nil
}

func (r *submissionRepo) List(ctx context.Context, f *submission.ListFilter) ([]*submission.Submission, int, error) {
	err := r.s.enter("ListSubmissions")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	var all []*submission.Submission
	for _, sub := range r.s.data.subs {
		if f.OwnerID != nil && sub.OwnerID != *f.OwnerID {
			continue
		}
		if f.Type != "" && sub.Type != f.Type {
			continue
		}
		if len(f.Status) > 0 && !hasStatus(f.Status, sub.Status) {
			continue
		}
		c := cloneSub(sub)
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		return r.s.data.subSeq[all[i].ID] > r.s.data.subSeq[all[j].ID]
	})
	return page(all, f.Offset, f.Limit), len(all), nil
}

func hasStatus(list []submission.Status, st submission.Status) bool {
	for _, v := range list {
		if v == st {
			return true
		}
	}
	return false
}

func (r *submissionRepo) AppendReview(ctx context.Context, e *submission.ReviewEntry) error {
	err := r.s.enter("AppendReview")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, ok := r.s.data.subs[e.SubmissionID]; !ok {
		return submission.ErrNotFound
	}
	e.Seq = len(r.s.data.reviews[e.SubmissionID]) + 1
	r.s.data.reviews[e.SubmissionID] = append(r.s.data.reviews[e.SubmissionID], *e)
	return nil
}

func (r *submissionRepo) Trail(ctx context.Context, id uuid.UUID) ([]*submission.ReviewEntry, error) {
	err := r.s.enter("Trail")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := r.s.data.reviews[id]
	out := make([]*submission.ReviewEntry, len(entries))
	for i := range entries {
		e := entries[i]
		out[i] = &e
	}
	return out, nil
}

func (r *submissionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	err := r.s.enter("ListDue")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var due []submission.Submission
	for _, sub := range r.s.data.subs {
		if (sub.Status == submission.StatusPending || sub.Status == submission.StatusAIRejected) &&
			sub.NextCheckAt != nil && !sub.NextCheckAt.After(now) {
			due = append(due, sub)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(*due[j].NextCheckAt) })
	return ids(due, limit), nil
}

func (r *submissionRepo) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]uuid.UUID, error) {
	err := r.s.enter("ListStaleClaims")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var stale []submission.Submission
	for _, sub := range r.s.data.subs {
		if sub.Status == submission.StatusAIReviewing && sub.ClaimedAt != nil && sub.ClaimedAt.Before(claimedBefore) {
			stale = append(stale, sub)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ClaimedAt.Before(*stale[j].ClaimedAt) })
	return ids(stale, limit), nil
}

func ids(subs []submission.Submission, limit int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return page(out, 0, limit)
}

func (r *submissionRepo) FindSettledHashes(ctx context.Context, ownerID uuid.UUID, hashes []string, since time.Time) ([]string, error) {
	err := r.s.enter("FindSettledHashes")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}
	found := make(map[string]bool)
	var out []string
	for _, sub := range r.s.data.subs {
		if sub.OwnerID != ownerID || !sub.Status.IsSettled() || sub.CreatedAt.Before(since) {
			continue
		}
		for _, img := range sub.Images {
			if wanted[img.Hash] && !found[img.Hash] {
				found[img.Hash] = true
				out = append(out, img.Hash)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// LockOwner only checks for a transaction; RunInTx already serializes.
func (r *submissionRepo) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	if err := requireTx(ctx, "LockOwner"); err != nil {
		return err
	}
	err := r.s.enter("LockOwner")
	r.s.mu.Unlock()
	return err
}

// SetSubmission overwrites a stored submission. Tests use it to set up states
// that would otherwise take several steps to reach.
func (s *Store) SetSubmission(sub submission.Submission) {
	s.mu.Lock()
	if _, ok := s.data.subSeq[sub.ID]; !ok {
		s.data.subSeq[sub.ID] = s.data.next()
	}
	s.data.subs[sub.ID] = cloneSub(sub)
	s.mu.Unlock()
}
