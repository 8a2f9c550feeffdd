package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/service"
	"github.com/alanyoungcy/resale/internal/store/memory"
)

type memBlobs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	multiparts int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multiparts++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type fixture struct {
	store    *memory.Store
	listings *service.ListingService
	blobs    *memBlobs
	logger   *slog.Logger
}

func newFixture(t *testing.T, sold int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(time.Second)
	listings := service.NewListingService(store, nil, nil, logger)
	buyouts := service.NewBuyoutService(store, listings, nil, logger)

	ctx := context.Background()
	price := domain.MustParseMoney("25")
	for i := range sold {
		v, err := listings.CreateListing(ctx, domain.Principal{UserID: "seller"}, domain.NewListing{
			Title:       fmt.Sprintf("item %d", i),
			BuyoutPrice: &price,
		})
		require.NoError(t, err)
		_, err = buyouts.Buyout(ctx, v.Listing.ID, "buyer")
		require.NoError(t, err)
	}
	return &fixture{store: store, listings: listings, blobs: newMemBlobs(), logger: logger}
}

func (f *fixture) archiver(cfg ArchiverConfig) *Archiver {
	return NewArchiver(f.blobs, f.blobs, f.listings, f.store.Audit(), cfg, f.logger)
}

func readRecords(t *testing.T, b []byte) []domain.SaleRecord {
	t.Helper()
	var out []domain.SaleRecord
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var rec domain.SaleRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveSalesInBatches(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	cutoff := time.Now().Add(time.Minute)

	results, err := f.archiver(ArchiverConfig{BatchSize: 2}).ArchiveSales(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{results[0].Count, results[1].Count, results[2].Count})

	total := 0
	for _, r := range results {
		assert.True(t, strings.HasPrefix(r.Path, "archive/sales/"+cutoff.UTC().Format("2006-01")+"/"))
		assert.False(t, r.Skipped)
		recs := readRecords(t, f.blobs.objects[r.Path])
		for _, rec := range recs {
			assert.True(t, rec.Listing.IsSold())
			require.Len(t, rec.Offers, 1)
			assert.Equal(t, domain.OfferSourceBuyout, rec.Offers[0].Source)
		}
		total += len(recs)
	}
	assert.Equal(t, 5, total)

	again, err := f.archiver(ArchiverConfig{BatchSize: 2}).ArchiveSales(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, again, 3)
	for _, r := range again {
		assert.True(t, r.Skipped, "existing batch %s is not rewritten", r.Path)
	}

	entries, err := f.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	archived := 0
	for _, e := range entries {
		if e.Event == "archive.sales" {
			archived++
		}
	}
	assert.Equal(t, 3, archived)
}

func TestArchiveSalesPurges(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	results, err := f.archiver(ArchiverConfig{BatchSize: 2, Purge: true, MultipartThreshold: 1}).
		ArchiveSales(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Purged)
	assert.Equal(t, 1, results[1].Purged)
	assert.Equal(t, 2, f.blobs.multiparts)

	left, err := f.listings.ListSoldBefore(ctx, time.Now().Add(time.Minute), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestArchiveSalesNothingToDo(t *testing.T) {
	f := newFixture(t, 2)
	results, err := f.archiver(ArchiverConfig{}).ArchiveSales(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.blobs.objects)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "", normalisePrefix(""))
	assert.Equal(t, "prod/", normalisePrefix("/prod/"))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))

	c := &Client{prefix: "prod/"}
	assert.Equal(t, "prod/archive/sales/x.jsonl", c.key("/archive/sales/x.jsonl"))

	assert.Equal(t, jsonlContentType, contentTypeFor("a/b.jsonl"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a/b.bin"))
}
