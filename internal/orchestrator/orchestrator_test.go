package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/canvas"
	"github.com/fpang/ai-photo-editor/internal/editerr"
	"github.com/fpang/ai-photo-editor/internal/events"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/metrics"
	"github.com/fpang/ai-photo-editor/internal/retouch"
	"github.com/fpang/ai-photo-editor/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Output = io.Discard
	os.Exit(m.Run())
}

// --- fakes ---

type fakeGenerator struct {
	calls atomic.Int32
	size  int
	err   error
	block bool
}

func (g *fakeGenerator) Generate(ctx context.Context, _ string, square []byte) ([]byte, error) {
	n := g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	size := g.size
	if size == 0 {
		size = 512
	}
	// Each call paints a different colour so results are distinguishable.
	return pngBytes(size, size, color.NRGBA{R: uint8(40 * n), G: 90, B: 160, A: 255}), nil
}

type fakeAnalyzer struct {
	calls atomic.Int32
	out   *store.Suggestions
	err   error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ []byte, _ string) (*store.Suggestions, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	cp := *a.out
	return &cp, nil
}

type fakeInferrer struct {
	calls atomic.Int32
	v     adjust.Vector
	err   error
}

func (f *fakeInferrer) InferVector(_ context.Context, _ string) (adjust.Vector, error) {
	f.calls.Add(1)
	return f.v, f.err
}

// barrierAdjuster holds every Apply call until n calls have arrived, so n
// concurrent attempts all miss the ledger before any of them appends.
type barrierAdjuster struct {
	inner   Adjuster
	arrived sync.WaitGroup
	calls   atomic.Int32
}

func newBarrierAdjuster(n int) *barrierAdjuster {
	b := &barrierAdjuster{inner: retouch.New()}
	b.arrived.Add(n)
	return b
}

func (b *barrierAdjuster) Apply(ctx context.Context, image []byte, v adjust.Vector) ([]byte, error) {
	b.calls.Add(1)
	b.arrived.Done()
	released := make(chan struct{})
	go func() {
		b.arrived.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.inner.Apply(ctx, image, v)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, jobs.Job) error {
	return errors.New("queue unavailable")
}

type recordingNotifier struct {
	events chan events.AttemptFinished
}

func (n *recordingNotifier) Notify(_ context.Context, ev events.AttemptFinished) error {
	n.events <- ev
	return nil
}

// --- harness ---

type harness struct {
	o        *Orchestrator
	store    *store.SQLiteStore
	blobs    *blob.FileStore
	gen      *fakeGenerator
	analyzer *fakeAnalyzer
	inferrer *fakeInferrer
}

func newHarness(t *testing.T, cfg Config, mutate ...func(*Deps)) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "edits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	blobs, err := blob.NewFileStore(filepath.Join(dir, "images"))
	require.NoError(t, err)

	h := &harness{
		store:    st,
		blobs:    blobs,
		gen:      &fakeGenerator{},
		analyzer: &fakeAnalyzer{out: &store.Suggestions{Title: "Harbor", NaturalSuggestions: []store.NaturalSuggestion{{Label: "Warm", Vector: adjust.Vector{Hue: 10, Saturation: 5}}}}},
		inferrer: &fakeInferrer{v: adjust.Vector{Brightness: 20}},
	}
	deps := Deps{
		Store:     st,
		Blobs:     blobs,
		Generator: h.gen,
		Analyzer:  h.analyzer,
		Inferrer:  h.inferrer,
		Adjuster:  retouch.New(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.o, err = New(deps, cfg)
	require.NoError(t, err)
	return h
}

func pngBytes(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (h *harness) upload(t *testing.T, w, ht int) *store.Edit {
	t.Helper()
	edit, err := h.o.CreateEdit(context.Background(), pngBytes(w, ht, color.NRGBA{R: 120, G: 110, B: 100, A: 255}))
	require.NoError(t, err)
	return edit
}

func (h *harness) edit(t *testing.T, id string) *store.Edit {
	t.Helper()
	e, err := h.o.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func intPtr(v int) *int { return &v }

// --- tests ---

func TestCreateEdit(t *testing.T) {
	h := newHarness(t, Config{})
	edit := h.upload(t, 1200, 800)

	assert.Equal(t, store.StatusPending, edit.Status)
	assert.Equal(t, 1200, edit.Width)
	assert.Equal(t, 800, edit.Height)
	assert.Equal(t, "image/png", edit.MIMEType)
	assert.Equal(t, adjust.BaselineStrength, edit.EffectStrength)
	assert.Equal(t, edit.OriginalImageID, edit.CurrentImageID)
	assert.True(t, jobs.ValidEditID(edit.ID))

	data, err := h.o.LoadImage(context.Background(), edit.OriginalImageID)
	require.NoError(t, err)
	info, err := canvas.DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 1200, info.Width)
}

func TestCreateEdit_RejectsUndecodable(t *testing.T) {
	h := newHarness(t, Config{})
	for _, data := range [][]byte{nil, []byte("not an image")} {
		_, err := h.o.CreateEdit(context.Background(), data)
		assert.True(t, editerr.Is(err, editerr.CodeDecode), "got %v", err)
	}
	entries, err := os.ReadDir(h.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing stored for a rejected upload")
}

// Scenario A: re-applying an identical vector at the same strength is a
// ledger hit and writes no new entry.
func TestParametric_LedgerHit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 1200, 800)
	req := ParametricRequest{Vector: &adjust.Vector{Brightness: 20}, Strength: intPtr(100)}

	snap, err := h.o.RequestParametric(ctx, edit.ID, req)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, snap.Status)
	h.o.Wait()

	first := h.edit(t, edit.ID)
	require.Equal(t, store.StatusCompleted, first.Status)
	assert.NotEqual(t, edit.OriginalImageID, first.CurrentImageID)
	assert.Equal(t, 100, first.EffectStrength)

	data, err := h.o.LoadImage(ctx, first.CurrentImageID)
	require.NoError(t, err)
	info, err := canvas.DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, [2]int{1200, 800}, [2]int{info.Width, info.Height})

	_, err = h.o.RequestParametric(ctx, edit.ID, req)
	require.NoError(t, err)
	h.o.Wait()

	second := h.edit(t, edit.ID)
	assert.Equal(t, store.StatusCompleted, second.Status)
	assert.Equal(t, first.CurrentImageID, second.CurrentImageID)

	history, err := h.o.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Equal(t, adjust.Vector{Brightness: 20}, *history[0].Vector)
}

func TestParametric_DistinctStrengthsAreDistinctEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 64, 48)
	v := &adjust.Vector{Contrast: 10}

	var images []string
	for _, s := range []int{25, 50, 75} {
		_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: v, Strength: intPtr(s)})
		require.NoError(t, err)
		h.o.Wait()
		images = append(images, h.edit(t, edit.ID).CurrentImageID)
	}
	history, err := h.o.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, images[i], e.ImageID)
	}

	// Dragging back to 50 is a hit on the second entry.
	_, err = h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: v})
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, images[1], h.edit(t, edit.ID).CurrentImageID)
}

func TestParametric_InferredVectorSharesCacheWithDirectInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Prompt: "a little brighter"})
	require.NoError(t, err)
	h.o.Wait()
	inferred := h.edit(t, edit.ID)
	require.Equal(t, store.StatusCompleted, inferred.Status)
	assert.Equal(t, int32(1), h.inferrer.calls.Load())

	_, err = h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Brightness: 20}})
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, inferred.CurrentImageID, h.edit(t, edit.ID).CurrentImageID)

	history, err := h.o.History(ctx, edit.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestParametric_InferenceFailureFailsAttempt(t *testing.T) {
	h := newHarness(t, Config{})
	h.inferrer.err = errors.New("model overloaded")
	edit := h.upload(t, 40, 30)

	_, err := h.o.RequestParametric(context.Background(), edit.ID, ParametricRequest{Prompt: "warmer"})
	require.NoError(t, err)
	h.o.Wait()

	got := h.edit(t, edit.ID)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, edit.OriginalImageID, got.CurrentImageID)
	assert.Contains(t, got.Error, "vector inference failed")
}

func TestParametric_SuggestionLabel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	_, err := h.o.Suggest(ctx, edit.ID)
	require.NoError(t, err)

	_, err = h.o.RequestParametric(ctx, edit.ID, ParametricRequest{SuggestionLabel: "Warm"})
	require.NoError(t, err)
	h.o.Wait()

	history, err := h.o.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, adjust.Vector{Hue: 10, Saturation: 5}, *history[0].Vector)

	// Labels from the static set resolve even without an analysis.
	_, err = h.o.RequestParametric(ctx, edit.ID, ParametricRequest{SuggestionLabel: "Brighten"})
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, store.StatusCompleted, h.edit(t, edit.ID).Status)
}

func TestRequest_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	tests := []struct {
		name string
		call func() error
		code editerr.Code
	}{
		{"no input", func() error {
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{})
			return err
		}, editerr.CodeValidation},
		{"two inputs", func() error {
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{}, Prompt: "x"})
			return err
		}, editerr.CodeValidation},
		{"vector out of range", func() error {
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Hue: 181}})
			return err
		}, editerr.CodeValidation},
		{"strength out of range", func() error {
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{}, Strength: intPtr(101)})
			return err
		}, editerr.CodeValidation},
		{"unknown label", func() error {
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{SuggestionLabel: "Nope"})
			return err
		}, editerr.CodeValidation},
		{"blank prompt", func() error {
			_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "   "})
			return err
		}, editerr.CodeValidation},
		{"missing edit", func() error {
			_, err := h.o.RequestGenerative(ctx, "edit-missing", GenerativeRequest{Prompt: "x"})
			return err
		}, editerr.CodeNotFound},
		{"foreign source image", func() error {
			_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "x", SourceImageID: blob.NewID()})
			return err
		}, editerr.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, editerr.Is(err, tt.code), "got %v", err)
		})
	}

	got := h.edit(t, edit.ID)
	assert.Equal(t, store.StatusPending, got.Status, "rejected requests never reach processing")
	assert.Empty(t, got.Prompt)
	assert.Zero(t, h.gen.calls.Load())
}

func TestGenerative_IdempotentHit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 1200, 800)
	req := GenerativeRequest{Prompt: "make sky dramatic", Selections: []string{"Moody", "Moody", " "}}

	var images []string
	for range 2 {
		_, err := h.o.RequestGenerative(ctx, edit.ID, req)
		require.NoError(t, err)
		h.o.Wait()
		got := h.edit(t, edit.ID)
		require.Equal(t, store.StatusCompleted, got.Status)
		images = append(images, got.CurrentImageID)
	}
	assert.Equal(t, int32(1), h.gen.calls.Load())
	assert.Equal(t, images[0], images[1])

	got := h.edit(t, edit.ID)
	assert.Equal(t, "make sky dramatic", got.Prompt)
	assert.Contains(t, got.RefinedPrompt, "make sky dramatic")
	assert.Contains(t, got.RefinedPrompt, "Moody")
}

// Scenario B: a prompt change purges the strength cache.
func TestGenerative_PromptChangePurgesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 1200, 800)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "make sky dramatic"})
	require.NoError(t, err)
	h.o.Wait()
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "make sky dramatic", Strength: intPtr(80)})
	require.NoError(t, err)
	h.o.Wait()

	imgA, err := h.store.GetStrength(ctx, edit.ID, 50)
	require.NoError(t, err)
	require.NotNil(t, imgA)

	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "add rain"})
	require.NoError(t, err)
	h.o.Wait()

	got := h.edit(t, edit.ID)
	require.Equal(t, store.StatusCompleted, got.Status)
	assert.NotEqual(t, imgA.ImageID, got.CurrentImageID)
	assert.Equal(t, int32(3), h.gen.calls.Load())

	entries, err := h.store.ListStrength(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the strength 80 entry for the old prompt is gone")
	assert.Equal(t, got.CurrentImageID, entries[0].ImageID)
}

func TestGenerative_ResultHasEditDimensions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.gen.size = 1024
	edit := h.upload(t, 300, 200)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "watercolor"})
	require.NoError(t, err)
	h.o.Wait()

	data, err := h.o.LoadImage(ctx, h.edit(t, edit.ID).CurrentImageID)
	require.NoError(t, err)
	info, err := canvas.DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 300, info.Width)
	assert.Equal(t, 200, info.Height)
}

func TestGenerative_RefinementSourceIsScoped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 60, 40)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset"})
	require.NoError(t, err)
	h.o.Wait()
	first := h.edit(t, edit.ID).CurrentImageID

	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset", SourceImageID: first})
	require.NoError(t, err)
	h.o.Wait()

	assert.Equal(t, int32(2), h.gen.calls.Load(), "same prompt on a different source is not a hit")
	assert.NotEqual(t, first, h.edit(t, edit.ID).CurrentImageID)
}

// Scenario C: a generator timeout fails the attempt and keeps the image.
func TestGenerative_TimeoutFailsAttempt(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{events: make(chan events.AttemptFinished, 4)}
	h := newHarness(t, Config{GenerateTimeout: 50 * time.Millisecond}, func(d *Deps) { d.Notifier = notifier })
	edit := h.upload(t, 1200, 800)

	_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Brightness: 5}})
	require.NoError(t, err)
	h.o.Wait()
	before := h.edit(t, edit.ID)
	require.Equal(t, store.StatusCompleted, before.Status)
	<-notifier.events

	h.gen.block = true
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "add fog"})
	require.NoError(t, err)
	h.o.Wait()

	after := h.edit(t, edit.ID)
	assert.Equal(t, store.StatusFailed, after.Status)
	assert.Equal(t, before.CurrentImageID, after.CurrentImageID)
	assert.Contains(t, after.Error, "deadline exceeded")

	ev := <-notifier.events
	assert.Equal(t, store.StatusFailed, ev.Status)
	assert.Equal(t, store.KindGenerative, ev.Kind)
	assert.NotEmpty(t, ev.Error)

	entries, err := h.store.ListStrength(ctx, edit.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerative_UpstreamErrorThenRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.gen.err = errors.New("prompt blocked: SAFETY")
	edit := h.upload(t, 60, 40)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "x"})
	require.NoError(t, err)
	h.o.Wait()
	got := h.edit(t, edit.ID)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "SAFETY")

	h.gen.err = nil
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "x"})
	require.NoError(t, err)
	h.o.Wait()
	got = h.edit(t, edit.ID)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestDispatchFailureMarksFailed(t *testing.T) {
	h := newHarness(t, Config{}, func(d *Deps) { d.Dispatcher = failingDispatcher{} })
	edit := h.upload(t, 40, 30)

	_, err := h.o.RequestGenerative(context.Background(), edit.ID, GenerativeRequest{Prompt: "x"})
	assert.True(t, editerr.Is(err, editerr.CodeInternal))
	assert.Equal(t, store.StatusFailed, h.edit(t, edit.ID).Status)
}

func TestRun_RejectsInvalidJob(t *testing.T) {
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	err := h.o.Run(context.Background(), jobs.Job{AttemptID: "att-1", EditID: edit.ID, SourceImageID: edit.OriginalImageID, Kind: "sideways"})
	assert.True(t, editerr.Is(err, editerr.CodeValidation))
	assert.Equal(t, store.StatusFailed, h.edit(t, edit.ID).Status)
}

func TestSuggest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	sug, err := h.o.Suggest(ctx, edit.ID)
	require.NoError(t, err)
	assert.False(t, sug.Fallback)
	assert.Equal(t, edit.CurrentImageID, sug.ImageID)
	assert.Equal(t, "Harbor", h.edit(t, edit.ID).Title)

	_, err = h.o.Suggest(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.analyzer.calls.Load(), "second call served from cache")
}

func TestSuggest_FallbackOnAnalysisFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.analyzer.err = errors.New("refused")
	edit := h.upload(t, 40, 30)

	sug, err := h.o.Suggest(ctx, edit.ID)
	require.NoError(t, err)
	assert.True(t, sug.Fallback)
	assert.NotEmpty(t, sug.NaturalSuggestions)
	assert.NotEmpty(t, sug.AISuggestions)

	cached, err := h.store.GetSuggestions(ctx, edit.CurrentImageID)
	require.NoError(t, err)
	assert.Nil(t, cached, "fallback is never cached")
	assert.Empty(t, h.edit(t, edit.ID).Title)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	for _, s := range []int{30, 70} {
		_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Saturation: 10}, Strength: intPtr(s)})
		require.NoError(t, err)
		h.o.Wait()
	}
	history, err := h.o.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	got, err := h.o.Revert(ctx, edit.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, history[0].ImageID, got.CurrentImageID)
	assert.Equal(t, 30, got.EffectStrength)

	_, err = h.o.Revert(ctx, edit.ID, 9)
	assert.True(t, editerr.Is(err, editerr.CodeNotFound))
}

func TestDeleteEdit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)

	_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Contrast: 5}})
	require.NoError(t, err)
	h.o.Wait()
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "snow"})
	require.NoError(t, err)
	h.o.Wait()
	_, err = h.o.Suggest(ctx, edit.ID)
	require.NoError(t, err)
	current := h.edit(t, edit.ID).CurrentImageID

	require.NoError(t, h.o.DeleteEdit(ctx, edit.ID))

	_, err = h.o.Get(ctx, edit.ID)
	assert.True(t, editerr.Is(err, editerr.CodeNotFound))
	entries, err := os.ReadDir(h.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	sug, err := h.store.GetSuggestions(ctx, current)
	require.NoError(t, err)
	assert.Nil(t, sug)

	assert.NoError(t, h.o.DeleteEdit(ctx, edit.ID), "deleting twice is fine")
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 40, 30)
	_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Brightness: 10}})
	require.NoError(t, err)
	h.o.Wait()

	var buf bytes.Buffer
	require.NoError(t, h.o.Export(ctx, edit.ID, &buf))
	assert.NotZero(t, buf.Len())

	err = h.o.Export(ctx, "edit-missing", io.Discard)
	assert.True(t, editerr.Is(err, editerr.CodeNotFound))
}

func TestLoadImage_RejectsForeignIDs(t *testing.T) {
	h := newHarness(t, Config{})
	for _, id := range []string{"../etc/passwd", "img-nope", blob.NewID()} {
		_, err := h.o.LoadImage(context.Background(), id)
		assert.True(t, editerr.Is(err, editerr.CodeNotFound), id)
	}
}

func TestScopedFingerprint(t *testing.T) {
	edit := &store.Edit{OriginalImageID: "img-a"}
	fp := adjust.VectorFingerprint(adjust.Vector{Hue: 3})
	assert.Equal(t, fp, scopedFingerprint(fp, edit, ""))
	assert.Equal(t, fp, scopedFingerprint(fp, edit, "img-a"))
	assert.Equal(t, fp+"|src=img-b", scopedFingerprint(fp, edit, "img-b"))
}

func TestParametric_SharpenKeyedAtRenderPrecision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 60, 40)

	apply := func(sharpen float64) string {
		t.Helper()
		_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Sharpen: sharpen}, Strength: intPtr(100)})
		require.NoError(t, err)
		h.o.Wait()
		got := h.edit(t, edit.ID)
		require.Equal(t, store.StatusCompleted, got.Status)
		return got.CurrentImageID
	}

	first := apply(3.25)
	entries, err := h.store.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Vector)
	assert.Equal(t, 3.3, entries[0].Vector.Sharpen, "ledger records the normalized base")

	assert.Equal(t, first, apply(3.3), "3.25 and 3.3 render identically and share one entry")
	assert.NotEqual(t, first, apply(3.24), "3.24 renders at 3.2 and is a different entry")

	entries, err = h.store.History(ctx, edit.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParametric_InferredSharpenIsNormalized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 60, 40)
	h.inferrer.v = adjust.Vector{Sharpen: 1.25}

	_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Prompt: "a touch crisper"})
	require.NoError(t, err)
	h.o.Wait()
	fromPrompt := h.edit(t, edit.ID).CurrentImageID

	_, err = h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Sharpen: 1.3}})
	require.NoError(t, err)
	h.o.Wait()

	assert.Equal(t, fromPrompt, h.edit(t, edit.ID).CurrentImageID)
	entries, err := h.store.History(ctx, edit.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// Identical requests all miss the ledger and render; the store
// accepts one entry and every other attempt adopts it and drops its blob.
func TestParametric_ConcurrentIdenticalRequestsConverge(t *testing.T) {
	const n = 6
	ctx := context.Background()
	barrier := newBarrierAdjuster(n)
	h := newHarness(t, Config{AttemptTimeout: 20 * time.Second}, func(d *Deps) { d.Adjuster = barrier })
	edit := h.upload(t, 120, 80)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.o.RequestParametric(ctx, edit.ID, ParametricRequest{Vector: &adjust.Vector{Brightness: 15}, Strength: intPtr(70)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	h.o.Wait()

	assert.Equal(t, int32(n), barrier.calls.Load(), "every attempt missed the ledger and rendered")

	got := h.edit(t, edit.ID)
	require.Equal(t, store.StatusCompleted, got.Status)
	entries, err := h.store.History(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, entries[0].ImageID, got.CurrentImageID)

	_, err = h.o.LoadImage(ctx, got.CurrentImageID)
	require.NoError(t, err)

	files, err := os.ReadDir(h.blobs.Dir())
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{edit.OriginalImageID, got.CurrentImageID}, names, "losing renders are deleted")
}

// headerOnlyPNG is a 1x1 PNG whose IHDR declares w x h.
func headerOnlyPNG(w, h int) []byte {
	data := pngBytes(1, 1, color.NRGBA{A: 255})
	binary.BigEndian.PutUint32(data[16:20], uint32(w))
	binary.BigEndian.PutUint32(data[20:24], uint32(h))
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestCreateEdit_RejectsOversizedDimensions(t *testing.T) {
	h := newHarness(t, Config{})
	for _, data := range [][]byte{headerOnlyPNG(60000, 60000), headerOnlyPNG(12000, 9000)} {
		_, err := h.o.CreateEdit(context.Background(), data)
		require.Error(t, err)
		assert.True(t, editerr.Is(err, editerr.CodeDecode), "got %v", err)
	}
	entries, err := os.ReadDir(h.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerative_PromptChangeDeletesPurgedImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 60, 40)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset"})
	require.NoError(t, err)
	h.o.Wait()
	atHalf := h.edit(t, edit.ID).CurrentImageID
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset", Strength: intPtr(80)})
	require.NoError(t, err)
	h.o.Wait()
	current := h.edit(t, edit.ID).CurrentImageID

	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "add rain"})
	require.NoError(t, err)
	h.o.Wait()
	require.Equal(t, store.StatusCompleted, h.edit(t, edit.ID).Status)

	_, err = h.o.LoadImage(ctx, atHalf)
	assert.True(t, editerr.Is(err, editerr.CodeNotFound), "purged result is deleted, got %v", err)
	_, err = h.o.LoadImage(ctx, current)
	assert.NoError(t, err, "the image that was current when the prompt changed is kept")
}

func TestGenerative_PromptChangeKeepsRefinementSource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	edit := h.upload(t, 60, 40)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset"})
	require.NoError(t, err)
	h.o.Wait()
	source := h.edit(t, edit.ID).CurrentImageID
	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset", Strength: intPtr(80)})
	require.NoError(t, err)
	h.o.Wait()

	_, err = h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "add rain", SourceImageID: source})
	require.NoError(t, err)
	h.o.Wait()

	require.Equal(t, store.StatusCompleted, h.edit(t, edit.ID).Status)
	_, err = h.o.LoadImage(ctx, source)
	assert.NoError(t, err)
}

func TestOrphanedImages(t *testing.T) {
	got := orphanedImages([]string{"img-a", "img-b", "img-a", "img-c"}, "img-b", "")
	assert.Equal(t, []string{"img-a", "img-c"}, got)
	assert.Empty(t, orphanedImages(nil, "img-a"))
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"}, // é is two bytes
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
	}
	for _, tt := range tests {
		got := truncateUTF8(tt.in, tt.max)
		assert.Equal(t, tt.want, got, "truncateUTF8(%q, %d)", tt.in, tt.max)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestFailedAttempt_ErrorIsValidUTF8(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.gen.err = errors.New(strings.Repeat("é", 400))
	edit := h.upload(t, 60, 40)

	_, err := h.o.RequestGenerative(ctx, edit.ID, GenerativeRequest{Prompt: "sunset"})
	require.NoError(t, err)
	h.o.Wait()

	got := h.edit(t, edit.ID)
	require.Equal(t, store.StatusFailed, got.Status)
	assert.LessOrEqual(t, len(got.Error), maxErrorLength)
	assert.True(t, utf8.ValidString(got.Error), "stored error must not split a rune")
}
