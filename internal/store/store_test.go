package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "plantiva_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func testReading(ts time.Time, watered, fanned bool) model.Reading {
	return model.Reading{
		Time:           ts,
		Temperature:    22.0,
		AirHumidity:    60.0,
		GroundHumidity: 40.0,
		Watered:        watered,
		Fanned:         fanned,
	}
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, testReading(base.Add(time.Duration(i)*time.Minute), false, false))
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestLatestOnEmptyStore(t *testing.T) {
	s := openTestStore(t)

	reading, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.Nil(t, reading)
}

func TestLatestReturnsMostRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, testReading(base, false, false))
	require.NoError(t, err)

	r2 := testReading(base.Add(time.Hour), true, false)
	r2.Temperature = 25.5
	id, err := s.Append(ctx, r2)
	require.NoError(t, err)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, id, latest.ID)
	require.Equal(t, 25.5, latest.Temperature)
	require.True(t, latest.Watered)
	require.True(t, latest.Time.Equal(base.Add(time.Hour)))
}

func TestRangeIsAscendingAndExclusiveOfUpperBound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := s.Append(ctx, testReading(base.Add(time.Duration(i)*time.Hour), false, false))
		require.NoError(t, err)
	}

	// from inclusive, to exclusive: the reading at base+2h is the bound.
	readings, err := s.Range(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, readings, 2)
	require.True(t, readings[0].Time.Equal(base))
	require.True(t, readings[1].Time.Equal(base.Add(time.Hour)))

	for i := 1; i < len(readings); i++ {
		require.True(t, readings[i].Time.After(readings[i-1].Time))
	}
}

func TestRangeExcludesUpperBoundAcrossFractionalSeconds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, testReading(base.Add(-100*time.Millisecond), false, false))
	require.NoError(t, err)
	_, err = s.Append(ctx, testReading(base.Add(500*time.Millisecond), false, false))
	require.NoError(t, err)

	// A whole-second upper bound must exclude the half-second reading
	// even though its text form carries more fractional digits.
	readings, err := s.Range(ctx, base.Add(-time.Hour), base)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.True(t, readings[0].Time.Equal(base.Add(-100*time.Millisecond)))
}

func TestOrderingWithMixedFractionalPrecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Insertion order deliberately disagrees with chronological order,
	// and the fractional-digit counts differ per reading.
	times := []time.Time{
		base.Add(123 * time.Millisecond),
		base,
		base.Add(500 * time.Millisecond),
		base.Add(120 * time.Millisecond),
	}
	for _, ts := range times {
		_, err := s.Append(ctx, testReading(ts, false, false))
		require.NoError(t, err)
	}

	readings, err := s.Range(ctx, base.Add(-time.Second), base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, readings, 4)
	for i := 1; i < len(readings); i++ {
		require.True(t, readings[i].Time.After(readings[i-1].Time))
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.True(t, latest.Time.Equal(base.Add(500*time.Millisecond)))
}

func TestRangeEmptyWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, testReading(base, false, false))
	require.NoError(t, err)

	readings, err := s.Range(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, readings)
}

func TestLatestWhereOnEmptyStore(t *testing.T) {
	s := openTestStore(t)

	reading, err := s.LatestWhere(context.Background(), FlagWatered)
	require.NoError(t, err)
	require.Nil(t, reading)
}

func TestLatestWhereIgnoresLaterFalseRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, testReading(base, true, false))
	require.NoError(t, err)
	wateredID, err := s.Append(ctx, testReading(base.Add(time.Hour), true, true))
	require.NoError(t, err)
	_, err = s.Append(ctx, testReading(base.Add(2*time.Hour), false, false))
	require.NoError(t, err)

	lastWatered, err := s.LatestWhere(ctx, FlagWatered)
	require.NoError(t, err)
	require.NotNil(t, lastWatered)
	require.Equal(t, wateredID, lastWatered.ID)

	lastFanned, err := s.LatestWhere(ctx, FlagFanned)
	require.NoError(t, err)
	require.NotNil(t, lastFanned)
	require.Equal(t, wateredID, lastFanned.ID)
}

func TestLatestWhereNeverTrue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, testReading(base, true, false))
	require.NoError(t, err)

	lastFanned, err := s.LatestWhere(ctx, FlagFanned)
	require.NoError(t, err)
	require.Nil(t, lastFanned)
}

func TestLatestWhereUnknownFlag(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LatestWhere(context.Background(), Flag("sprinkled"))
	require.Error(t, err)
}

func TestLatestRejectsMalformedStoredTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO readings (time, temperature, air_humidity, ground_humidity, watered, fanned)
		 VALUES ('not-a-timestamp', 22.0, 60.0, 40.0, 0, 0);`)
	require.NoError(t, err)

	_, err = s.Latest(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not-a-timestamp")
}
