package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/blob"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/eventbus"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/repository"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/tdeiclient"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validMeta() model.UploadMetadata {
	return model.UploadMetadata{
		ProjectGroupID:    "pg-1",
		ServiceID:         "svc-1",
		CollectedBy:       "testuser",
		CollectionDate:    "2023-03-01T00:00:00Z",
		CollectionMethod:  "manual",
		ValidFrom:         "2023-03-23T00:00:00Z",
		ValidTo:           "2023-04-23T00:00:00Z",
		DataSource:        "InHouse",
		FlexSchemaVersion: "v2.0",
	}
}

func testFlexRecord() *model.FlexRecord {
	return &model.FlexRecord{
		RecordID:          "rec-1",
		ProjectGroupID:    "pg-1",
		ServiceID:         "svc-1",
		FileUploadPath:    "2023/3/pg-1/rec-1/flex.zip",
		UploadedBy:        "user-1",
		CollectedBy:       "testuser",
		CollectionDate:    time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		CollectionMethod:  "manual",
		ValidFrom:         time.Date(2023, 3, 23, 0, 0, 0, 0, time.UTC),
		ValidTo:           time.Date(2023, 4, 23, 0, 0, 0, 0, time.UTC),
		DataSource:        "InHouse",
		FlexSchemaVersion: "v2.0",
	}
}

// --- FlexStore ---

// fakeStore — подмена FlexStore с function-полями.
type fakeStore struct {
	listFn    func(filter model.QueryFilter) ([]*model.FlexRecord, error)
	getByIDFn func(id string) (*model.FlexRecord, error)
	tx        *fakeTx
	lockCalls int
	getCalls  int
}

func (f *fakeStore) List(_ context.Context, filter model.QueryFilter) ([]*model.FlexRecord, error) {
	return f.listFn(filter)
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*model.FlexRecord, error) {
	f.getCalls++
	return f.getByIDFn(id)
}

func (f *fakeStore) WithOwnerLock(_ context.Context, _, _ string, fn func(tx repository.FlexTx) error) error {
	f.lockCalls++
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return fn(f.tx)
}

// fakeTx — подмена FlexTx.
type fakeTx struct {
	overlapsFn func(rec *model.FlexRecord) ([]string, error)
	insertFn   func(rec *model.FlexRecord) error
	inserted   []*model.FlexRecord
}

func (t *fakeTx) FindOverlaps(_ context.Context, rec *model.FlexRecord) ([]string, error) {
	if t.overlapsFn == nil {
		return nil, nil
	}
	return t.overlapsFn(rec)
}

func (t *fakeTx) Insert(_ context.Context, rec *model.FlexRecord) error {
	if t.insertFn != nil {
		if err := t.insertFn(rec); err != nil {
			return err
		}
	}
	rec.UploadedDate = fakeUploadedDate
	t.inserted = append(t.inserted, rec)
	return nil
}

// fakeUploadedDate — значение DEFAULT NOW() фейковых вставок.
var fakeUploadedDate = time.Date(2023, 3, 24, 8, 0, 0, 0, time.UTC)

// memStore — FlexStore в памяти с уникальностью id и проверкой
// пересечения замкнутых окон.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.FlexRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*model.FlexRecord)}
}

func (m *memStore) List(context.Context, model.QueryFilter) ([]*model.FlexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.FlexRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.FlexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) WithOwnerLock(_ context.Context, _, _ string, fn func(tx repository.FlexTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m})
}

type memTx struct{ m *memStore }

func (t memTx) FindOverlaps(_ context.Context, rec *model.FlexRecord) ([]string, error) {
	var ids []string
	for _, r := range t.m.records {
		if r.ProjectGroupID == rec.ProjectGroupID && r.ServiceID == rec.ServiceID &&
			!r.ValidFrom.After(rec.ValidTo) && !r.ValidTo.Before(rec.ValidFrom) {
			ids = append(ids, r.RecordID)
		}
	}
	return ids, nil
}

func (t memTx) Insert(_ context.Context, rec *model.FlexRecord) error {
	if _, ok := t.m.records[rec.RecordID]; ok {
		return fmt.Errorf("вставка: %w", repository.ErrDuplicateKey)
	}
	rec.UploadedDate = fakeUploadedDate
	t.m.records[rec.RecordID] = rec
	return nil
}

// --- Внешние сервисы ---

type fakeRegistry struct {
	lookupFn func(pg, svc string) (*tdeiclient.Service, error)
	calls    int
}

func (f *fakeRegistry) LookupService(_ context.Context, pg, svc string) (*tdeiclient.Service, error) {
	f.calls++
	if f.lookupFn == nil {
		return &tdeiclient.Service{ServiceID: svc, ProjectGroupID: pg}, nil
	}
	return f.lookupFn(pg, svc)
}

type fakeAuth struct {
	allowFn func(userID, pg string) (bool, error)
}

func (f *fakeAuth) HasPermission(_ context.Context, userID, pg string) (bool, error) {
	if f.allowFn == nil {
		return true, nil
	}
	return f.allowFn(userID, pg)
}

// fakeBlobs — подмена blob.Store, запоминающая загруженные объекты.
type fakeBlobs struct {
	uploadFn  func(key string) error
	openFn    func(ref string) (*blob.File, error)
	uploaded  map[string][]byte
	openCalls int
}

func (f *fakeBlobs) Upload(_ context.Context, key, _ string, r io.Reader, _ int64) (string, error) {
	if f.uploadFn != nil {
		if err := f.uploadFn(key); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[key] = data
	return "https://blob.test/gtfs-flex/" + key, nil
}

func (f *fakeBlobs) Open(_ context.Context, ref string) (*blob.File, error) {
	f.openCalls++
	if f.openFn != nil {
		return f.openFn(ref)
	}
	return &blob.File{
		Name:        "flex.zip",
		ContentType: "application/zip",
		Size:        4,
		Body:        io.NopCloser(bytes.NewReader([]byte("PK\x03\x04"))),
	}, nil
}

// fakePublisher — подмена eventbus.Publisher.
type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(topic string, msg eventbus.Message) error
	published []publishedMessage
}

type publishedMessage struct {
	topic string
	msg   eventbus.Message
}

func (f *fakePublisher) Publish(_ context.Context, topic string, msg eventbus.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(topic, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{topic: topic, msg: msg})
	f.mu.Unlock()
	return nil
}

func newTestFlexService(store FlexStore, registry ServiceRegistry, auth Authorizer, blobs blob.Store) *FlexService {
	return NewFlexService(store, registry, auth, blobs, NewCacheService(100, time.Minute),
		validation.New(), "https://flex.example.org/", testLogger())
}
