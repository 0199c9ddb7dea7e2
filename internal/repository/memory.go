package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// In-memory repositories back the memory queue mode and the service tests.
// Every read returns a copy so callers cannot mutate stored rows.

type MemoryPostRepository struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.Post
}

func NewMemoryPostRepository() *MemoryPostRepository {
	return &MemoryPostRepository{posts: make(map[int64]*models.Post)}
}

func clonePost(p *models.Post) *models.Post {
	cp := *p
	cp.MediaIDs = append([]string(nil), p.MediaIDs...)
	if p.JobID != nil {
		id := *p.JobID
		cp.JobID = &id
	}
	if p.Options.Poll != nil {
		poll := *p.Options.Poll
		poll.Options = append([]string(nil), p.Options.Poll.Options...)
		cp.Options.Poll = &poll
	}
	if p.Options.Extra != nil {
		cp.Options.Extra = make(map[string]string, len(p.Options.Extra))
		for k, v := range p.Options.Extra {
			cp.Options.Extra[k] = v
		}
	}
	return &cp
}

func (r *MemoryPostRepository) Create(_ context.Context, _ *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	post.ID = r.nextID
	if post.Status == "" {
		post.Status = models.PostStatusDraft
	}
	if post.MaxRetries <= 0 {
		post.MaxRetries = models.DefaultMaxRetries
	}
	now := time.Now().UTC()
	post.ScheduledAt = post.ScheduledAt.UTC()
	post.CreatedAt, post.UpdatedAt = now, now

	r.posts[post.ID] = clonePost(post)
	return post.ID, nil
}

func (r *MemoryPostRepository) GetByID(_ context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return clonePost(p), nil
}

func (r *MemoryPostRepository) ListByStatus(_ context.Context, status models.PostStatus, limit int) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Post
	for _, p := range r.posts {
		if p.Status == status {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPostRepository) Transition(_ context.Context, id int64, fn TransitionFunc) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}

	next := clonePost(current)
	if err := fn(next); err != nil {
		return nil, err
	}

	next.ID = current.ID
	next.Version = current.Version + 1
	next.ScheduledAt = next.ScheduledAt.UTC()
	next.UpdatedAt = time.Now().UTC()
	r.posts[id] = next
	return clonePost(next), nil
}

type MemoryAccountRepository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[int64]*models.Account)}
}

func (r *MemoryAccountRepository) Create(_ context.Context, _ *sql.Tx, acc *models.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	acc.ID = r.nextID
	if acc.Status == "" {
		acc.Status = models.AccountStatusActive
	}
	now := time.Now().UTC()
	acc.CreatedAt, acc.UpdatedAt = now, now

	cp := *acc
	r.accounts[acc.ID] = &cp
	return acc.ID, nil
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	cp := *acc
	return &cp, nil
}

func (r *MemoryAccountRepository) ListExpiring(_ context.Context, before time.Time) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Account
	for _, acc := range r.accounts {
		if acc.Status == models.AccountStatusActive && acc.TokenExpiresAt.Before(before) {
			cp := *acc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiresAt.Before(out[j].TokenExpiresAt) })
	return out, nil
}

func (r *MemoryAccountRepository) SetStatus(_ context.Context, id int64, status models.AccountStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	acc.Status = status
	acc.StatusReason = reason
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[int64]*models.ScheduledJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[int64]*models.ScheduledJob)}
}

func cloneJob(j *models.ScheduledJob) *models.ScheduledJob {
	cp := *j
	cp.Checkpoint.ChildIDs = append([]string(nil), j.Checkpoint.ChildIDs...)
	return &cp
}

func (r *MemoryJobRepository) Upsert(_ context.Context, job *models.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cp := cloneJob(job)
	cp.Attempts = 0
	cp.LastError = ""
	cp.RunAt = job.RunAt.UTC()
	cp.UpdatedAt = now
	if existing, ok := r.jobs[job.PostID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	r.jobs[job.PostID] = cp
	return nil
}

func (r *MemoryJobRepository) GetByPostID(_ context.Context, postID int64) (*models.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[postID]
	if !ok {
		return nil, fmt.Errorf("job for post %d: %w", postID, ErrNotFound)
	}
	return cloneJob(j), nil
}

func (r *MemoryJobRepository) SetStatus(_ context.Context, postID int64, status models.JobStatus, lastError string) error {
	return r.update(postID, func(j *models.ScheduledJob) {
		j.Status = status
		j.LastError = lastError
	})
}

func (r *MemoryJobRepository) SetHandle(_ context.Context, postID int64, handle string) error {
	return r.update(postID, func(j *models.ScheduledJob) {
		j.Handle = handle
	})
}

func (r *MemoryJobRepository) MarkAttempt(_ context.Context, postID int64) error {
	return r.update(postID, func(j *models.ScheduledJob) {
		j.Status = models.JobStatusProcessing
		j.Attempts++
	})
}

func (r *MemoryJobRepository) SaveCheckpoint(_ context.Context, postID int64, cp models.Checkpoint) error {
	return r.update(postID, func(j *models.ScheduledJob) {
		j.Checkpoint = cp
		j.Checkpoint.ChildIDs = append([]string(nil), cp.ChildIDs...)
	})
}

func (r *MemoryJobRepository) update(postID int64, fn func(j *models.ScheduledJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[postID]
	if !ok {
		return fmt.Errorf("job for post %d: %w", postID, ErrNotFound)
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

type MemoryPostingHistoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.PostingHistory
}

func NewMemoryPostingHistoryRepository() *MemoryPostingHistoryRepository {
	return &MemoryPostingHistoryRepository{}
}

func (r *MemoryPostingHistoryRepository) Create(_ context.Context, ph *models.PostingHistory) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	cp := *ph
	cp.ID = r.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, &cp)
	return cp.ID, nil
}

func (r *MemoryPostingHistoryRepository) ListByPostID(_ context.Context, postID int64) ([]*models.PostingHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.PostingHistory
	for _, e := range r.entries {
		if e.PostID == postID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MemoryMediaAssetRepository struct {
	mu     sync.Mutex
	assets map[string]*models.MediaAsset
}

func NewMemoryMediaAssetRepository() *MemoryMediaAssetRepository {
	return &MemoryMediaAssetRepository{assets: make(map[string]*models.MediaAsset)}
}

func (r *MemoryMediaAssetRepository) Create(_ context.Context, _ *sql.Tx, ma *models.MediaAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[ma.ID]; exists {
		return fmt.Errorf("media asset %s already exists", ma.ID)
	}
	cp := *ma
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.assets[ma.ID] = &cp
	return nil
}

func (r *MemoryMediaAssetRepository) GetByIDs(_ context.Context, ids []string) ([]*models.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.MediaAsset
	for _, id := range ids {
		if ma, ok := r.assets[id]; ok {
			cp := *ma
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MemoryApiKeyRepository struct {
	mu     sync.Mutex
	nextID int64
	keys   map[int64]*models.ApiKey
}

func NewMemoryApiKeyRepository() *MemoryApiKeyRepository {
	return &MemoryApiKeyRepository{keys: make(map[int64]*models.ApiKey)}
}

func (r *MemoryApiKeyRepository) GetByHash(_ context.Context, keyHash string) (*models.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.keys {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("api key: %w", ErrNotFound)
}

func (r *MemoryApiKeyRepository) List(_ context.Context) ([]*models.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.ApiKey, 0, len(r.keys))
	for _, k := range r.keys {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryApiKeyRepository) Create(_ context.Context, apiKey *models.ApiKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	apiKey.ID = r.nextID
	apiKey.CreatedAt = time.Now().UTC()
	cp := *apiKey
	r.keys[cp.ID] = &cp
	return cp.ID, nil
}

func (r *MemoryApiKeyRepository) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[id]; !ok {
		return fmt.Errorf("api key %d: %w", id, ErrNotFound)
	}
	delete(r.keys, id)
	return nil
}

var (
	_ PostRepository           = (*MemoryPostRepository)(nil)
	_ AccountRepository        = (*MemoryAccountRepository)(nil)
	_ JobRepository            = (*MemoryJobRepository)(nil)
	_ PostingHistoryRepository = (*MemoryPostingHistoryRepository)(nil)
	_ MediaAssetRepository     = (*MemoryMediaAssetRepository)(nil)
	_ ApiKeyRepository         = (*MemoryApiKeyRepository)(nil)
)
