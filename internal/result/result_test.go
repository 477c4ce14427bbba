package result

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/internal/store/memory"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

var baseTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*store.Store, *memory.Backend) {
	t.Helper()
	b := memory.New()
	return store.New(b), b
}

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = orig })
}

// storeCheckAt stores a check run whose uuid is the given time.
func storeCheckAt(t *testing.T, s *store.Store, name string, at time.Time, status types.CheckStatus, primary bool) *types.Envelope {
	t.Helper()
	c := NewCheck(s, name)
	c.Status = status
	c.Summary = "run at " + at.Format(time.RFC3339)
	c.Kwargs = types.Kwargs{types.KwargUUID: NewUUID(at), types.KwargPrimary: primary}
	env, err := c.StoreResult(context.Background())
	require.NoError(t, err)
	return env
}

func TestStoreResult_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	c := NewCheck(s, "item_counts")
	c.Status = types.CheckWarn
	c.Description = "3 items are out of sync"
	c.Summary = "out of sync"
	c.BriefOutput = []interface{}{"a", "b", "c"}
	c.FullOutput = map[string]interface{}{"counts": map[string]interface{}{"db": 10, "es": 7}}
	c.FFLink = "https://data.4dnucleome.org/search/?type=Item"
	c.Action = "patch_items"
	c.AllowAction = true
	c.Kwargs = types.Kwargs{"search_limit": 50}

	env, err := c.StoreResult(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, env.UUID)
	assert.Equal(t, env.UUID, c.Kwargs.UUID())
	assert.Equal(t, false, env.Kwargs[types.KwargPrimary])

	got := c.GetResultByUUID(ctx, env.UUID)
	require.NotNil(t, got)
	assert.Equal(t, env, got)
	assert.Equal(t, types.KindCheck, got.Kind)
	assert.Equal(t, "patch_items", got.Action)
	assert.Equal(t, float64(50), got.Kwargs["search_limit"])
}

func TestStoreResult_ActionRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := NewAction(s, "patch_items")
	a.Status = types.ActionDone
	a.Output = map[string]interface{}{"patched": []interface{}{"uuid-1"}}
	a.Kwargs = types.Kwargs{types.KwargCheckName: "item_counts", types.KwargCalledBy: "2024-01-01T00:00:00.000000"}

	env, err := a.StoreResult(ctx)
	require.NoError(t, err)

	got := a.GetResultByUUID(ctx, env.UUID)
	require.NotNil(t, got)
	assert.Equal(t, env, got)
	assert.Equal(t, types.KindAction, got.Kind)
}

func TestStoreResult_ReturnsIndependentCopy(t *testing.T) {
	s, _ := newTestStore(t)
	c := NewCheck(s, "copy_check")
	c.Status = types.CheckPass
	out := map[string]interface{}{"n": 1}
	c.FullOutput = out

	env, err := c.StoreResult(context.Background())
	require.NoError(t, err)

	out["n"] = 2
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, env.FullOutput)
}

func TestStoreResult_UnencodablePayload(t *testing.T) {
	s, b := newTestStore(t)
	c := NewCheck(s, "bad_payload")
	c.FullOutput = make(chan int)

	_, err := c.StoreResult(context.Background())
	require.Error(t, err)
	n, _ := b.Count(context.Background())
	assert.Zero(t, n)
}

func TestGetLatest_Monotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	storeCheckAt(t, s, "mono", baseTime, types.CheckPass, true)
	r2 := storeCheckAt(t, s, "mono", baseTime.Add(time.Minute), types.CheckFail, false)

	latest := NewReader(s, "mono").GetLatest(ctx)
	require.NotNil(t, latest)
	assert.Equal(t, r2.UUID, latest.UUID)
	assert.Equal(t, "FAIL", latest.Status)
}

func TestGetPrimary_Promotion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	r := NewReader(s, "promo")

	assert.Nil(t, r.GetPrimary(ctx))

	r1 := storeCheckAt(t, s, "promo", baseTime, types.CheckPass, true)
	storeCheckAt(t, s, "promo", baseTime.Add(time.Hour), types.CheckWarn, false)

	primary := r.GetPrimary(ctx)
	require.NotNil(t, primary)
	assert.Equal(t, r1.UUID, primary.UUID)

	latest := r.GetLatest(ctx)
	require.NotNil(t, latest)
	assert.NotEqual(t, r1.UUID, latest.UUID)
}

func TestGetPrimary_StringTrueIsNotPrimary(t *testing.T) {
	s, _ := newTestStore(t)
	c := NewCheck(s, "stringly")
	c.Status = types.CheckPass
	c.Kwargs = types.Kwargs{types.KwargPrimary: "true"}

	_, err := c.StoreResult(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c.GetPrimary(context.Background()))
}

func TestStoreResult_StatusNormalization(t *testing.T) {
	invalid := []string{"NOT_A_REAL_STATUS", "", "pass", "DONE", "Error", "PASS "}

	for _, status := range invalid {
		t.Run("check "+status, func(t *testing.T) {
			s, _ := newTestStore(t)
			c := NewCheck(s, "norm_check")
			c.Status = types.CheckStatus(status)
			c.Description = "original"

			env, err := c.StoreResult(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "ERROR", env.Status)
			assert.Equal(t, types.MalformedStatusDescription, env.Description)

			stored := c.GetLatest(context.Background())
			require.NotNil(t, stored)
			assert.Equal(t, "ERROR", stored.Status)
		})
	}

	for _, status := range append(invalid, "PASS", "WARN") {
		t.Run("action "+status, func(t *testing.T) {
			s, _ := newTestStore(t)
			a := NewAction(s, "norm_action")
			a.Status = types.ActionStatus(status)

			env, err := a.StoreResult(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "FAIL", env.Status)
			assert.Equal(t, types.MalformedStatusDescription, env.Description)
		})
	}
}

func TestStoreResult_ValidStatusesKept(t *testing.T) {
	s, _ := newTestStore(t)
	for _, st := range []types.CheckStatus{types.CheckPend, types.CheckPass, types.CheckWarn, types.CheckFail, types.CheckError, types.CheckIgnore} {
		c := NewCheck(s, "valid_check")
		c.Status = st
		c.Description = "kept"
		env, err := c.StoreResult(context.Background())
		require.NoError(t, err)
		assert.Equal(t, string(st), env.Status)
		assert.Equal(t, "kept", env.Description)
	}
}

func TestStoreResult_DoNotStore(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	before := storeCheckAt(t, s, "dry", baseTime, types.CheckPass, true)
	countBefore, _ := b.Count(ctx)

	c := NewCheck(s, "dry")
	c.Status = types.CheckFail
	c.Kwargs = types.Kwargs{types.KwargDoNotStore: true, types.KwargPrimary: true}
	env, err := c.StoreResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "FAIL", env.Status)
	assert.NotEmpty(t, env.UUID)

	countAfter, _ := b.Count(ctx)
	assert.Equal(t, countBefore, countAfter)
	assert.Equal(t, before.UUID, c.GetLatest(ctx).UUID)
	assert.Equal(t, before.UUID, c.GetPrimary(ctx).UUID)
	assert.Nil(t, c.GetResultByUUID(ctx, env.UUID))
}

func TestStoreResult_BackendDownStillReturnsEnvelope(t *testing.T) {
	s, b := newTestStore(t)
	b.SetErr(errors.New("connection refused"))

	c := NewCheck(s, "offline")
	c.Status = types.CheckPass
	env, err := c.StoreResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PASS", env.Status)
	assert.Nil(t, c.GetLatest(context.Background()))
}

func TestGetClosest(t *testing.T) {
	freezeNow(t, baseTime)
	s, _ := newTestStore(t)
	ctx := context.Background()

	storeCheckAt(t, s, "closest", baseTime.Add(-3*time.Hour), types.CheckPass, false)
	oneHourAgo := storeCheckAt(t, s, "closest", baseTime.Add(-time.Hour), types.CheckPass, false)
	storeCheckAt(t, s, "closest", baseTime.Add(2*time.Hour), types.CheckPass, false)

	r := NewReader(s, "closest")
	got, err := r.GetClosest(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, oneHourAgo.UUID, got.UUID)

	got, err = r.GetClosest(ctx, 0, 170)
	require.NoError(t, err)
	assert.Equal(t, NewUUID(baseTime.Add(-3*time.Hour)), got.UUID)

	got, err = r.GetClosest(ctx, -2, 0)
	require.NoError(t, err)
	assert.Equal(t, NewUUID(baseTime.Add(2*time.Hour)), got.UUID)
}

func TestGetClosest_NoHistory(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := NewReader(s, "empty").GetClosest(context.Background(), 1, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoResults))
}

func TestGetClosest_LatestAndPrimaryAreNotCandidates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.True(t, s.Put(ctx, LatestKey("only_pointers"), []byte(`{"name":"only_pointers","status":"PASS","allow_action":false}`)))
	require.True(t, s.Put(ctx, "only_pointers/not-a-timestamp.json", []byte(`{}`)))

	_, err := NewReader(s, "only_pointers").GetClosest(ctx, 0, 0)
	assert.True(t, errors.Is(err, ErrNoResults))
}

func TestGetClosest_WithoutErrors(t *testing.T) {
	freezeNow(t, baseTime)
	s, _ := newTestStore(t)
	ctx := context.Background()

	storeCheckAt(t, s, "flaky", baseTime.Add(-5*time.Hour), types.CheckPass, false)
	errRun := storeCheckAt(t, s, "flaky", baseTime.Add(-time.Hour), types.CheckError, false)

	r := NewReader(s, "flaky")

	got, err := r.GetClosest(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, errRun.UUID, got.UUID)

	got, err = r.GetClosest(ctx, 1, 0, WithoutErrors())
	require.NoError(t, err)
	assert.Equal(t, "PASS", got.Status)

	s2, _ := newTestStore(t)
	storeCheckAt(t, s2, "broken", baseTime.Add(-time.Hour), types.CheckError, false)
	_, err = NewReader(s2, "broken").GetClosest(ctx, 1, 0, WithoutErrors())
	assert.True(t, errors.Is(err, ErrNoValidResults))
	assert.False(t, errors.Is(err, ErrNoResults))
}

func TestGetClosest_TieGoesToEarlierKey(t *testing.T) {
	freezeNow(t, baseTime)
	s, _ := newTestStore(t)
	before := storeCheckAt(t, s, "tie", baseTime.Add(-time.Hour), types.CheckPass, false)
	storeCheckAt(t, s, "tie", baseTime.Add(time.Hour), types.CheckPass, false)

	got, err := NewReader(s, "tie").GetClosest(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, before.UUID, got.UUID)
}

func TestGetResultHistory_Pagination(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const n = 7
	for i := 0; i < n; i++ {
		storeCheckAt(t, s, "paged", baseTime.Add(time.Duration(i)*time.Minute), types.CheckPass, i == 0)
	}
	r := NewReader(s, "paged")

	page1 := r.GetResultHistory(ctx, 0, 3, time.Time{})
	page2 := r.GetResultHistory(ctx, 3, 3, time.Time{})
	page3 := r.GetResultHistory(ctx, 6, 3, time.Time{})
	require.Len(t, page1, 3)
	require.Len(t, page2, 3)
	require.Len(t, page3, 1)

	var all []string
	for _, page := range [][]types.HistoryEntry{page1, page2, page3} {
		for _, e := range page {
			all = append(all, e.Kwargs.UUID())
		}
	}
	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1], all[i], "history must be strictly descending")
	}
	assert.Equal(t, NewUUID(baseTime.Add(6*time.Minute)), all[0])

	assert.Len(t, r.GetResultHistory(ctx, 0, 100, time.Time{}), n)
	assert.Empty(t, r.GetResultHistory(ctx, 50, 3, time.Time{}))
}

func TestGetResultHistory_AfterDate(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		storeCheckAt(t, s, "recent", baseTime.Add(time.Duration(i)*time.Hour), types.CheckPass, false)
	}

	got := NewReader(s, "recent").GetResultHistory(context.Background(), 0, 10, baseTime.Add(2*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, NewUUID(baseTime.Add(4*time.Hour)), got[0].Kwargs.UUID())
	assert.Equal(t, "PASS", got[0].Status)
	assert.NotNil(t, got[0].Summary)
}

func TestGetAllResults(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 12; i++ {
		storeCheckAt(t, s, "all", baseTime.Add(time.Duration(i)*time.Second), types.CheckPass, false)
	}
	storeCheckAt(t, s, "all_other", baseTime, types.CheckPass, false)

	got := NewReader(s, "all").GetAllResults(context.Background())
	require.Len(t, got, 12)
	assert.Equal(t, NewUUID(baseTime), got[0].UUID)
	for _, env := range got {
		assert.Equal(t, "all", env.Name)
	}
}

func TestDeleteResults_PreservesPrimary(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	primary := storeCheckAt(t, s, "cleanup", baseTime, types.CheckPass, true)
	for i := 1; i <= 5; i++ {
		storeCheckAt(t, s, "cleanup", baseTime.Add(time.Duration(i)*time.Minute), types.CheckPass, false)
	}
	r := NewReader(s, "cleanup")

	n, err := r.DeleteResults(ctx, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.NotNil(t, r.GetResultByUUID(ctx, primary.UUID))
	require.NotNil(t, r.GetPrimary(ctx))
	assert.Equal(t, primary.UUID, r.GetPrimary(ctx).UUID)
	assert.NotNil(t, r.GetLatest(ctx))
	assert.Len(t, r.GetAllResults(ctx), 1)
}

func TestDeleteResults_IncludePrimary(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	storeCheckAt(t, s, "wipe", baseTime, types.CheckPass, true)
	storeCheckAt(t, s, "wipe", baseTime.Add(time.Minute), types.CheckPass, false)

	r := NewReader(s, "wipe")
	n, err := r.DeleteResults(ctx, DeleteOptions{IncludePrimary: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, r.GetAllResults(ctx))
	// The pointer keys are not history and survive.
	assert.NotNil(t, r.GetPrimary(ctx))
}

func TestDeleteResults_PriorDate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		storeCheckAt(t, s, "aged", baseTime.Add(time.Duration(i)*24*time.Hour), types.CheckPass, false)
	}

	r := NewReader(s, "aged")
	n, err := r.DeleteResults(ctx, DeleteOptions{PriorDate: baseTime.Add(2 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, r.GetAllResults(ctx), 2)
}

func TestDeleteResults_Filter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		storeCheckAt(t, s, "filtered", baseTime.Add(time.Duration(i)*time.Hour), types.CheckPass, false)
	}
	r := NewReader(s, "filtered")

	n, err := r.DeleteResults(ctx, DeleteOptions{Filter: func(key string) (bool, error) {
		return strings.Contains(key, "T13:") || strings.Contains(key, "T14:"), nil
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	boom := errors.New("bad predicate")
	n, err = r.DeleteResults(ctx, DeleteOptions{Filter: func(string) (bool, error) { return false, boom }})
	assert.True(t, errors.Is(err, boom))
	assert.Zero(t, n)
	assert.Len(t, r.GetAllResults(ctx), 2, "a failing filter must not delete anything")
}

func TestDeleteResults_DryRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		storeCheckAt(t, s, "preview", baseTime.Add(time.Duration(i)*time.Hour), types.CheckPass, false)
	}

	r := NewReader(s, "preview")
	n, err := r.DeleteResults(ctx, DeleteOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, r.GetAllResults(ctx), 3)
}

func TestDeleteResults_Empty(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := NewReader(s, "nothing").DeleteResults(context.Background(), DeleteOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetAssociatedCheck(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	check := storeCheckAt(t, s, "origin_check", baseTime, types.CheckWarn, false)

	a := NewAction(s, "fix_it")
	a.Kwargs = types.Kwargs{types.KwargCheckName: "origin_check", types.KwargCalledBy: check.UUID}
	got := a.GetAssociatedCheck(ctx)
	require.NotNil(t, got)
	assert.Equal(t, check.UUID, got.UUID)

	orphan := NewAction(s, "fix_it")
	assert.Nil(t, orphan.GetAssociatedCheck(ctx))
}

func TestGetActionRecord(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	r := NewReader(s, "recorded")

	assert.Nil(t, r.GetActionRecord(ctx, "2024-01-01T00:00:00.000000"))

	key := ActionRecordKey("recorded", "2024-01-01T00:00:00.000000")
	require.True(t, s.Put(ctx, key, []byte(`{"action":"fix_it","action_uuid":"2024-01-01T00:05:00.000000"}`)))
	rec := r.GetActionRecord(ctx, "2024-01-01T00:00:00.000000")
	require.NotNil(t, rec)
	assert.Equal(t, "fix_it", rec.Action)
	assert.Equal(t, "2024-01-01T00:05:00.000000", rec.ActionUUID)
}

func TestHistoryUUID(t *testing.T) {
	tests := []struct {
		key  string
		ok   bool
		uuid string
	}{
		{"c/2024-01-01T00:00:00.000000.json", true, "2024-01-01T00:00:00.000000"},
		{"c/latest.json", false, ""},
		{"c/primary.json", false, ""},
		{"c/action_records/2024-01-01T00:00:00.000000", false, ""},
		{"c/2024-01-01T00:00:00.json", false, ""},
		{"c/2024-01-01T00:00:00.000000", false, ""},
		{"cc/2024-01-01T00:00:00.000000.json", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			uuid, _, ok := historyUUID("c", tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.uuid, uuid)
		})
	}
}

func TestNewUUID_SortsChronologically(t *testing.T) {
	var prev string
	for i := 0; i < 50; i++ {
		u := NewUUID(baseTime.Add(time.Duration(i*i) * time.Microsecond * 997))
		if prev != "" {
			assert.Greater(t, u, prev, fmt.Sprintf("step %d", i))
		}
		prev = u
	}
	parsed, err := ParseUUID(NewUUID(baseTime))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(baseTime))
}

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2024-01-01T00:00:00.000000", "2024-01-01T00:00:00.000000"},
		{"2024-01-01T00:00:00", "2024-01-01T00:00:00.000000"},
		{"2024-01-01T00:00:00.5", "2024-01-01T00:00:00.500000"},
		{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00.000000"},
		{"2024-01-01T02:00:00+02:00", "2024-01-01T00:00:00.000000"},
		{"2024-01-01 00:00:00.123456", "2024-01-01T00:00:00.123456"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeUUID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "nested/part", "2024-01-01", "not a time"} {
		_, err := NormalizeUUID(bad)
		assert.ErrorIs(t, err, ErrInvalidUUID, bad)
	}
}

func TestStoreResult_CallerUUIDStaysVisible(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	freezeNow(t, baseTime)

	for _, uuid := range []string{"2024-03-15T09:00:00", "2024-03-15T10:00:00Z"} {
		c := NewCheck(s, "fmt_check")
		c.Status = types.CheckPass
		c.Kwargs = types.Kwargs{types.KwargUUID: uuid}
		_, err := c.StoreResult(ctx)
		require.NoError(t, err)
	}

	r := NewReader(s, "fmt_check")
	assert.Len(t, r.GetResultHistory(ctx, 0, 10, time.Time{}), 2)
	assert.Len(t, r.GetAllResults(ctx), 2)
	closest, err := r.GetClosest(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15T10:00:00.000000", closest.UUID)
	assert.NotNil(t, r.GetResultByUUID(ctx, "2024-03-15T09:00:00.000000"))

	n, err := r.DeleteResults(ctx, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c := NewCheck(s, "rejected_check")
	c.Status = types.CheckPass
	c.Kwargs = types.Kwargs{types.KwargUUID: "nested/part"}
	_, err = c.StoreResult(ctx)
	assert.ErrorIs(t, err, ErrInvalidUUID)
	assert.Empty(t, s.ListKeys(ctx, Prefix("rejected_check")), "nothing written for a rejected uuid")
}
