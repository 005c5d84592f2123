package propagate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/delta"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"github.com/jwebster45206/dungeon-ledger/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "0x00000000000000000000000000000000000000aa"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a seeded ledger and store around one live character.
type fixture struct {
	ledger *ledger.MockLedger
	store  *metadata.MockStore
	seq    *Sequencer
	record character.Record

	mu    sync.Mutex
	order []string
}

func newFixture(t *testing.T, hp int) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.NewMockLedger(),
		store:  metadata.NewMockStore(),
	}
	f.record = character.Record{
		TokenID:     1,
		Name:        "Brom",
		Level:       1,
		Experience:  0,
		HitPoints:   hp,
		Abilities:   character.Abilities{Strength: 14, Dexterity: 12, Constitution: 15, Intelligence: 9, Wisdom: 11, Charisma: 8},
		MetadataRef: "cid-initial",
	}
	f.store.Put(f.record.MetadataRef, f.record.Document())
	f.ledger.Seed(f.record.TokenID, owner, f.record.MetadataRef, ledger.Progress{Level: 1})
	f.seq = NewSequencer(f.ledger, f.store, testLogger())
	return f
}

func (f *fixture) note(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, s)
}

// trackOrder records calls across both collaborators in one sequence while
// delegating to a second pair of default mocks for state.
func (f *fixture) trackOrder() {
	backingLedger := f.ledger
	backingStore := metadata.NewMockStore()

	tracked := ledger.NewMockLedger()
	tracked.ApplyExperienceFunc = func(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
		f.note("ledger.apply_xp")
		return backingLedger.ApplyExperience(ctx, id, amount)
	}
	tracked.SetMetadataRefFunc = func(ctx context.Context, id ledger.TokenID, ref metadata.Ref) error {
		f.note("ledger.set_ref")
		return backingLedger.SetMetadataRef(ctx, id, ref)
	}
	tracked.BurnFunc = func(ctx context.Context, id ledger.TokenID) error {
		f.note("ledger.burn")
		return backingLedger.Burn(ctx, id)
	}
	f.store.PublishFunc = func(ctx context.Context, doc *metadata.Document) (metadata.Ref, error) {
		f.note("store.publish")
		return backingStore.Publish(ctx, doc)
	}
	f.store.ReleaseFunc = func(ctx context.Context, ref metadata.Ref) error {
		f.note("store.release")
		return backingStore.Release(ctx, ref)
	}
	f.ledger = tracked
	f.seq = NewSequencer(tracked, f.store, testLogger())
}

func TestExecute_EmptyPlanDoesNoIO(t *testing.T) {
	f := newFixture(t, 10)

	got, err := f.seq.Execute(context.Background(), f.record, reconcile.Plan{})
	require.NoError(t, err)
	assert.Equal(t, f.record, got)
	assert.Empty(t, f.store.Calls)
	assert.Empty(t, f.ledger.Calls)
}

func TestExecute_Ordering(t *testing.T) {
	f := newFixture(t, 10)
	f.trackOrder()

	plan := reconcile.Plan{Effects: []reconcile.Effect{
		{Kind: reconcile.EffectApplyXP, Amount: 10},
		{Kind: reconcile.EffectPublishMetadata},
	}}
	_, err := f.seq.Execute(context.Background(), f.record, plan)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ledger.apply_xp",
		"store.publish",
		"store.release",
		"ledger.set_ref",
	}, f.order)
}

func TestExecute_PublishUsesRefreshedProgress(t *testing.T) {
	f := newFixture(t, 10)
	// The ledger's arithmetic disagrees with anything local
	f.ledger.ApplyExperienceFunc = func(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
		return ledger.Progress{Level: 7, Experience: 3}, nil
	}

	plan := reconcile.Plan{Effects: []reconcile.Effect{
		{Kind: reconcile.EffectApplyXP, Amount: 1},
		{Kind: reconcile.EffectPublishMetadata},
	}}
	got, err := f.seq.Execute(context.Background(), f.record, plan)
	require.NoError(t, err)

	assert.Equal(t, 7, got.Level)
	assert.Equal(t, 3, got.Experience)
	require.Len(t, f.store.Published, 1)
	lvl, err := f.store.Published[0].IntTrait(character.TraitLevel)
	require.NoError(t, err)
	assert.Equal(t, 7, lvl)
}

func TestExecute_ReferenceHygiene(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	publishOnly := reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectPublishMetadata}}}

	rec1, err := f.seq.Execute(ctx, f.record, publishOnly)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Ref{"cid-initial"}, f.store.ReleasedRef)

	rec2, err := f.seq.Execute(ctx, rec1, publishOnly)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Ref{"cid-initial", rec1.MetadataRef}, f.store.ReleasedRef)
	assert.NotEqual(t, rec1.MetadataRef, rec2.MetadataRef)

	onChain, err := f.ledger.MetadataRef(ctx, f.record.TokenID)
	require.NoError(t, err)
	assert.Equal(t, rec2.MetadataRef, onChain)
}

func TestExecute_PublishFailureNeverReleases(t *testing.T) {
	f := newFixture(t, 10)
	f.store.PublishFunc = func(ctx context.Context, doc *metadata.Document) (metadata.Ref, error) {
		return "", errors.New("pinning service unavailable")
	}

	plan := reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectPublishMetadata}}}
	got, err := f.seq.Execute(context.Background(), f.record, plan)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepPublish, stepErr.Step)
	assert.Empty(t, f.store.ReleasedRef)
	assert.Equal(t, 0, f.ledger.CallCount("SetMetadataRef"))
	assert.Equal(t, f.record.MetadataRef, got.MetadataRef)
}

func TestExecute_ApplyXPFailureAbortsPublish(t *testing.T) {
	f := newFixture(t, 10)
	f.ledger.ApplyExperienceFunc = func(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
		return ledger.Progress{}, ledger.ErrUnauthorized
	}

	plan := reconcile.Plan{Effects: []reconcile.Effect{
		{Kind: reconcile.EffectApplyXP, Amount: 5},
		{Kind: reconcile.EffectPublishMetadata},
	}}
	got, err := f.seq.Execute(context.Background(), f.record, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.Empty(t, f.store.Published)
	assert.Equal(t, f.record, got)
}

func TestExecute_ReleaseFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 10)
	f.store.ReleaseFunc = func(ctx context.Context, ref metadata.Ref) error {
		return errors.New("unpin failed")
	}

	plan := reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectPublishMetadata}}}
	got, err := f.seq.Execute(context.Background(), f.record, plan)
	require.NoError(t, err)
	assert.NotEqual(t, f.record.MetadataRef, got.MetadataRef)
	assert.Equal(t, 1, f.ledger.CallCount("SetMetadataRef"))
}

func TestExecute_SetMetadataRefFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.ledger.SetMetadataRefFunc = func(ctx context.Context, id ledger.TokenID, ref metadata.Ref) error {
		return errors.New("rpc down")
	}

	plan := reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectPublishMetadata}}}
	got, err := f.seq.Execute(context.Background(), f.record, plan)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepSetMetadataRef, stepErr.Step)
	// The new ref is current locally; the next successful publish re-points the ledger
	assert.Equal(t, metadata.Ref("mock-cid-1"), got.MetadataRef)
}

func TestExecute_TimeoutIsAFailedStep(t *testing.T) {
	f := newFixture(t, 10)
	f.ledger.ApplyExperienceFunc = func(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
		<-ctx.Done()
		return ledger.Progress{}, ctx.Err()
	}
	seq := NewSequencer(f.ledger, f.store, testLogger(), WithTimeouts(Timeouts{Ledger: 10 * time.Millisecond}))

	plan := reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectApplyXP, Amount: 5}}}
	_, err := seq.Execute(context.Background(), f.record, plan)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_BurnAlreadyBurnedIsSuccess(t *testing.T) {
	f := newFixture(t, 10)
	f.ledger.BurnFunc = func(ctx context.Context, id ledger.TokenID) error {
		return ledger.ErrBurned
	}

	rec := f.record
	rec.HitPoints = 0
	got, err := f.seq.Execute(context.Background(), rec, reconcile.Plan{Effects: []reconcile.Effect{{Kind: reconcile.EffectBurn}}})
	require.NoError(t, err)
	assert.True(t, got.Burned)
}

func TestPublishSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.record
	rec.AdventureLog = "Brom cleared the goblin warren."

	got, err := f.seq.PublishSnapshot(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, f.store.Published, 1)
	assert.Equal(t, rec.AdventureLog, f.store.Published[0].StringTrait(character.TraitAdventureLog))
	assert.Equal(t, []metadata.Ref{"cid-initial"}, f.store.ReleasedRef)
	assert.Equal(t, 0, f.ledger.CallCount("ApplyExperience"))

	dead := got
	dead.HitPoints = 0
	_, err = f.seq.PublishSnapshot(context.Background(), dead)
	require.NoError(t, err)
	assert.Len(t, f.store.Published, 1)
}

type recordingObserver struct {
	steps []Step
	fails int
}

func (o *recordingObserver) StepCompleted(step Step, err error) {
	o.steps = append(o.steps, step)
	if err != nil {
		o.fails++
	}
}

func TestExecute_Observer(t *testing.T) {
	f := newFixture(t, 10)
	obs := &recordingObserver{}
	seq := NewSequencer(f.ledger, f.store, testLogger(), WithObserver(obs))

	plan := reconcile.Plan{Effects: []reconcile.Effect{
		{Kind: reconcile.EffectApplyXP, Amount: 5},
		{Kind: reconcile.EffectPublishMetadata},
	}}
	_, err := seq.Execute(context.Background(), f.record, plan)
	require.NoError(t, err)
	assert.Equal(t, []Step{StepApplyXP, StepPublish, StepRelease, StepSetMetadataRef}, obs.steps)
	assert.Zero(t, obs.fails)
}

// runTurn drives the full extract, reconcile, propagate pipeline.
func runTurn(t *testing.T, f *fixture, raw string) (character.Record, reconcile.Plan) {
	t.Helper()
	res := delta.NewExtractor(testLogger()).Extract(raw)
	rec, plan := reconcile.Reconcile(f.record, res.Delta)
	rec, err := f.seq.Execute(context.Background(), rec, plan)
	require.NoError(t, err)
	return rec, plan
}

func TestScenario_LevelUp(t *testing.T) {
	f := newFixture(t, 10)

	rec, _ := runTurn(t, f, "You slay the wolf.\n{\"xp_gained\": 25, \"hp_change\": 0}")

	assert.Equal(t, 2, rec.Level)
	assert.Equal(t, 5, rec.Experience)
	assert.Equal(t, 10, rec.HitPoints)

	require.Len(t, f.store.Published, 1)
	doc := f.store.Published[0]
	lvl, _ := doc.IntTrait(character.TraitLevel)
	xp, _ := doc.IntTrait(character.TraitExperience)
	assert.Equal(t, 2, lvl)
	assert.Equal(t, 5, xp)

	assert.Equal(t, []metadata.Ref{"cid-initial"}, f.store.ReleasedRef)
	assert.Equal(t, 1, f.ledger.CallCount("ApplyExperience"))
}

func TestScenario_Death(t *testing.T) {
	f := newFixture(t, 3)

	rec, plan := runTurn(t, f, "The troll's club finds you.\n{\"xp_gained\": 10, \"hp_change\": -5}")

	assert.False(t, rec.IsAlive())
	assert.True(t, rec.Burned)
	assert.True(t, plan.Died)
	assert.Equal(t, 1, f.ledger.CallCount("Burn"))
	assert.Equal(t, 0, f.ledger.CallCount("ApplyExperience"))
	assert.Empty(t, f.store.Published)
	assert.True(t, f.ledger.IsBurned(rec.TokenID))
}
