package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/resale/internal/blob/s3"
)

func TestParseCronAndNext(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 7, 30, 0, time.UTC) // Monday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 2, 10, 8, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 0,6", time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseCron(tc.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

type fakeArchiver struct {
	cutoff  time.Time
	results []s3blob.BatchResult
	err     error
}

func (f *fakeArchiver) ArchiveSales(_ context.Context, before time.Time) ([]s3blob.BatchResult, error) {
	f.cutoff = before
	return f.results, f.err
}

func TestArchiveJobRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	fa := &fakeArchiver{results: []s3blob.BatchResult{{Count: 2}, {Count: 1, Skipped: true}}}
	job := NewArchiveJob(fa, 30, logger)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -30), fa.cutoff)

	fa.err = errors.New("s3 down")
	assert.ErrorContains(t, job.Run(context.Background()), "s3 down")
}
