package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/cache"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
	"github.com/bigkaa/goartstore/document-module/internal/storage"
)

// --- Хранилище метаданных в памяти ---

// memState — данные memStore; копируется целиком для отката транзакции.
type memState struct {
	docs      map[string]model.Document
	revisions []model.Revision
	approvals []model.ApprovalRequest
	access    []model.AccessLogEntry
	shares    map[[2]string]model.Share
}

func (s memState) clone() memState {
	c := memState{
		docs:      make(map[string]model.Document, len(s.docs)),
		revisions: append([]model.Revision(nil), s.revisions...),
		approvals: append([]model.ApprovalRequest(nil), s.approvals...),
		access:    append([]model.AccessLogEntry(nil), s.access...),
		shares:    make(map[[2]string]model.Share, len(s.shares)),
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	return c
}

// memStore — реализация Store в памяти с ограничениями уникальности,
// совпадающими с индексами миграции.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState
	seq  int

	// missChecksumOnce — первый FindByChecksum промахивается (гонка загрузок)
	missChecksumOnce bool
	// failAudit — запись журнала доступа завершается ошибкой
	failAudit bool
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		docs:   make(map[string]model.Document),
		shares: make(map[[2]string]model.Share),
	}}
}

func (s *memStore) Repos() repository.Repos {
	return repository.Repos{
		Documents: memDocs{s},
		Revisions: memRevisions{s},
		Approvals: memApprovals{s},
		AccessLog: memAccessLog{s},
		Shares:    memShares{s},
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(r repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(s.Repos()); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// put добавляет документ в обход ограничений (подготовка тестов).
func (s *memStore) put(d *model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.docs[d.ID] = *d
}

func (s *memStore) doc(id string) model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.docs[id]
}

func (s *memStore) accessEntries(docID string, t model.AccessType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.st.access {
		if e.DocumentID == docID && e.AccessType == t {
			n++
		}
	}
	return n
}

func (s *memStore) docCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.docs)
}

type memDocs struct{ s *memStore }

func (r memDocs) Insert(_ context.Context, d *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.st.docs {
		if other.State != model.StateActive {
			continue
		}
		if other.Checksum == d.Checksum {
			return repository.ErrDuplicateChecksum
		}
		if d.IsCurrentVersion && other.IsCurrentVersion && other.RootDocumentID == d.RootDocumentID {
			return repository.ErrChainConflict
		}
		if other.StoragePath == d.StoragePath {
			return repository.ErrPathConflict
		}
	}
	r.s.seq++
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.s.seq) * time.Second)
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.st.docs[d.ID] = *d
	return nil
}

func (r memDocs) GetByID(_ context.Context, id string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.st.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r memDocs) GetByIDForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.GetByID(ctx, id)
}

func (r memDocs) FindByChecksum(_ context.Context, sum string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.missChecksumOnce {
		r.s.missChecksumOnce = false
		return nil, repository.ErrNotFound
	}
	for _, d := range r.s.st.docs {
		if d.State == model.StateActive && d.Checksum == sum {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memDocs) FindByPath(_ context.Context, storagePath string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.st.docs {
		if d.State == model.StateActive && d.StoragePath == storagePath {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memDocs) match(d model.Document, f repository.DocumentFilters) bool {
	if d.State != model.StateActive {
		return false
	}
	if f.CurrentOnly && !d.IsCurrentVersion {
		return false
	}
	if f.Query != nil {
		q := strings.ToLower(*f.Query)
		if !strings.Contains(strings.ToLower(d.FileName), q) && !strings.Contains(strings.ToLower(d.DisplayName), q) {
			return false
		}
	}
	if f.Category != nil && d.Category != *f.Category {
		return false
	}
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	if f.OwnerID != nil && d.OwnerID != *f.OwnerID {
		return false
	}
	if f.ViewerID != nil && d.Visibility == model.VisibilityRestricted && !d.IsOwnedBy(*f.ViewerID) {
		if _, ok := r.s.st.shares[[2]string{d.ID, *f.ViewerID}]; !ok {
			return false
		}
	}
	return true
}

func (r memDocs) filter(f repository.DocumentFilters) []*model.Document {
	var result []*model.Document
	for _, d := range r.s.st.docs {
		if r.match(d, f) {
			d := d
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (r memDocs) Search(_ context.Context, f repository.DocumentFilters, limit, offset int) ([]*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.filter(f)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r memDocs) Count(_ context.Context, f repository.DocumentFilters) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.filter(f)), nil
}

func (r memDocs) ListVersions(_ context.Context, rootID string) ([]*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.Document
	for _, d := range r.s.st.docs {
		if d.State == model.StateActive && d.RootDocumentID == rootID {
			d := d
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VersionNumber > result[j].VersionNumber })
	return result, nil
}

func (r memDocs) update(id string, fn func(d *model.Document) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.st.docs[id]
	if !ok || d.State != model.StateActive || !fn(&d) {
		return repository.ErrNotFound
	}
	r.s.st.docs[id] = d
	return nil
}

func (r memDocs) ClearCurrent(_ context.Context, id string) error {
	return r.update(id, func(d *model.Document) bool {
		if !d.IsCurrentVersion {
			return false
		}
		d.IsCurrentVersion = false
		return true
	})
}

func (r memDocs) SetStatus(_ context.Context, id string, status model.DocumentStatus) error {
	return r.update(id, func(d *model.Document) bool {
		d.Status = status
		return true
	})
}

func (r memDocs) SoftDelete(_ context.Context, id, deletedBy string) error {
	return r.update(id, func(d *model.Document) bool {
		now := time.Now().UTC()
		d.State = model.StateDeleted
		d.Status = model.StatusDeleted
		d.IsCurrentVersion = false
		d.DeletedAt = &now
		d.DeletedBy = &deletedBy
		return true
	})
}

func (r memDocs) PromoteLatest(_ context.Context, rootID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.Document
	for _, d := range r.s.st.docs {
		if d.State == model.StateActive && d.RootDocumentID == rootID {
			if latest == nil || d.VersionNumber > latest.VersionNumber {
				d := d
				latest = &d
			}
		}
	}
	if latest == nil {
		return "", repository.ErrNotFound
	}
	latest.IsCurrentVersion = true
	r.s.st.docs[latest.ID] = *latest
	return latest.ID, nil
}

type memRevisions struct{ s *memStore }

func (r memRevisions) Insert(_ context.Context, rev *model.Revision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.st.revisions {
		if other.DocumentID == rev.DocumentID {
			return repository.ErrConflict
		}
	}
	r.s.st.revisions = append(r.s.st.revisions, *rev)
	return nil
}

func (r memRevisions) GetByDocument(_ context.Context, documentID string) (*model.Revision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rev := range r.s.st.revisions {
		if rev.DocumentID == documentID {
			return &rev, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memRevisions) ListByChain(_ context.Context, rootID string) ([]*model.Revision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.Revision
	for _, rev := range r.s.st.revisions {
		if d, ok := r.s.st.docs[rev.DocumentID]; ok && d.RootDocumentID == rootID {
			rev := rev
			result = append(result, &rev)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RevisionNumber < result[j].RevisionNumber })
	return result, nil
}

type memApprovals struct{ s *memStore }

func (r memApprovals) InsertBatch(_ context.Context, reqs []*model.ApprovalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range reqs {
		for _, other := range r.s.st.approvals {
			if other.DocumentID == req.DocumentID && other.ApproverID == req.ApproverID && other.Status == model.ApprovalPending {
				return repository.ErrConflict
			}
		}
		r.s.st.approvals = append(r.s.st.approvals, *req)
	}
	return nil
}

func (r memApprovals) GetPending(_ context.Context, documentID, approverID string) (*model.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.st.approvals {
		if a.DocumentID == documentID && a.ApproverID == approverID && a.Status == model.ApprovalPending {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memApprovals) Decide(_ context.Context, documentID, approverID string, decision model.ApprovalStatus, comments string) (*model.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, a := range r.s.st.approvals {
		if a.DocumentID == documentID && a.ApproverID == approverID && a.Status == model.ApprovalPending {
			now := time.Now().UTC()
			a.Status = decision
			a.Comments = comments
			a.RespondedAt = &now
			r.s.st.approvals[i] = a
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memApprovals) ListByDocument(_ context.Context, documentID string) ([]*model.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.ApprovalRequest
	for _, a := range r.s.st.approvals {
		if a.DocumentID == documentID {
			a := a
			result = append(result, &a)
		}
	}
	return result, nil
}

func (r memApprovals) StatusesByDocument(_ context.Context, documentID string) ([]model.ApprovalStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []model.ApprovalStatus
	for _, a := range r.s.st.approvals {
		if a.DocumentID == documentID {
			result = append(result, a.Status)
		}
	}
	return result, nil
}

type memAccessLog struct{ s *memStore }

func (r memAccessLog) Append(_ context.Context, e *model.AccessLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failAudit {
		return errors.New("журнал недоступен")
	}
	e.ID = int64(len(r.s.st.access) + 1)
	e.AccessedAt = time.Now().UTC()
	r.s.st.access = append(r.s.st.access, *e)
	return nil
}

func (r memAccessLog) ListByDocument(_ context.Context, documentID string, limit int) ([]*model.AccessLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.AccessLogEntry
	for i := len(r.s.st.access) - 1; i >= 0 && len(result) < limit; i-- {
		if e := r.s.st.access[i]; e.DocumentID == documentID {
			result = append(result, &e)
		}
	}
	return result, nil
}

type memShares struct{ s *memStore }

func (r memShares) Grant(_ context.Context, sh *model.Share) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]string{sh.DocumentID, sh.UserID}
	if _, ok := r.s.st.shares[key]; ok {
		return false, nil
	}
	sh.CreatedAt = time.Now().UTC()
	r.s.st.shares[key] = *sh
	return true, nil
}

func (r memShares) HasAccess(_ context.Context, documentID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.shares[[2]string{documentID, userID}]
	return ok, nil
}

func (r memShares) ListByDocument(_ context.Context, documentID string) ([]*model.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.Share
	for k, sh := range r.s.st.shares {
		if k[0] == documentID {
			sh := sh
			result = append(result, &sh)
		}
	}
	return result, nil
}

// --- Blob-хранилище в памяти ---

type memBlobs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failUpload bool
	writes     int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUpload {
		return nil, fmt.Errorf("%w: диск переполнен", storage.ErrWrite)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.objects[key] = data
	b.writes++
	return &storage.UploadResult{Path: key, ProviderID: key, Size: int64(len(data))}, nil
}

func (b *memBlobs) Download(_ context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), &storage.ObjectInfo{Path: key, Size: int64(len(data))}, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) GetURL(_ context.Context, key string, opts storage.URLOptions) (string, error) {
	if opts.Signed {
		return fmt.Sprintf("mem://signed/%s?ttl=%s", key, opts.ExpiresIn), nil
	}
	return "mem://public/" + key, nil
}

func (b *memBlobs) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []storage.ObjectInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			result = append(result, storage.ObjectInfo{Path: k, Size: int64(len(v))})
		}
	}
	return result, nil
}

func (b *memBlobs) Move(ctx context.Context, src, dst string) error {
	if err := b.Copy(ctx, src, dst); err != nil {
		return err
	}
	return b.Delete(ctx, src)
}

func (b *memBlobs) Copy(_ context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[src]
	if !ok {
		return storage.ErrObjectNotFound
	}
	b.objects[dst] = data
	return nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBlobs) GetMetadata(_ context.Context, key string) (*storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Path: key, Size: int64(len(data))}, nil
}

func (b *memBlobs) Provider() string { return "memory" }
func (b *memBlobs) Bucket() string   { return "test" }

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (b *memBlobs) get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// --- Права ---

type fakePermissions struct {
	mu    sync.Mutex
	users map[string]*model.Permissions
	err   error
}

func (f *fakePermissions) GetUserPermissions(_ context.Context, userID string) (*model.Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.users[userID]
	if !ok {
		return nil, errors.New("пользователь неизвестен")
	}
	c := *p
	return &c, nil
}

func (f *fakePermissions) set(userID string, p *model.Permissions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = p
}

// allowAll — все права без квоты.
func allowAll() *model.Permissions {
	return &model.Permissions{
		CanAccess:   true,
		CanUpload:   true,
		CanDownload: true,
		CanDelete:   true,
		CanApprove:  true,
		CanShare:    true,
	}
}

// --- Окружение тестов ---

type testEnv struct {
	store     *memStore
	blobs     *memBlobs
	perms     *fakePermissions
	docs      *DocumentService
	approvals *ApprovalService
}

var testNow = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestEnv(users ...string) *testEnv {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store := newMemStore()
	blobs := newMemBlobs()
	perms := &fakePermissions{users: make(map[string]*model.Permissions)}
	for _, u := range users {
		perms.set(u, allowAll())
	}

	deps := Deps{
		Store:   store,
		Storage: blobs,
		Gate:    permission.NewGate(perms, logger),
		Cache:   cache.NewLRU(100, time.Minute),
		Audit:   NewAuditLog(store.Repos().AccessLog, logger),
	}
	docs := NewDocumentService(deps, Options{MaxUploadSize: 50 << 20, SignedURLTTL: time.Hour}, logger)
	docs.now = func() time.Time { return testNow }
	approvals := NewApprovalService(deps, logger)
	approvals.now = func() time.Time { return testNow }

	return &testEnv{store: store, blobs: blobs, perms: perms, docs: docs, approvals: approvals}
}

func user(id string) model.Caller {
	return model.Caller{UserID: id, AccessMethod: "test"}
}

func admin(id string) model.Caller {
	return model.Caller{UserID: id, IsAdmin: true, AccessMethod: "test"}
}
