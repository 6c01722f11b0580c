package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

type fakeRetriever struct {
	results []*models.RetrievedRecord
	lastReq models.RetrieveRequest
}

func (f *fakeRetriever) Retrieve(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	f.lastReq = *req
	return &models.RetrieveResponse{Query: req.Query, Results: f.results}, nil
}

type recordingGenerator struct {
	mu      sync.Mutex
	prompts []*Prompt
	err     error
}

func (g *recordingGenerator) Generate(ctx context.Context, p *Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("resposta %d", len(g.prompts)), nil
}

type staticTables struct {
	tables []models.SideTable
	calls  int
}

func (s *staticTables) Load(ctx context.Context) ([]models.SideTable, error) {
	s.calls++
	return s.tables, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestAssembler(opts Options) (*Assembler, *fakeRetriever, *recordingGenerator, *staticTables, *fakeClock) {
	r := &fakeRetriever{results: []*models.RetrievedRecord{
		{Question: "Tem entrega?", Answer: "Sim", Distance: 0.1},
	}}
	g := &recordingGenerator{}
	tables := &staticTables{tables: []models.SideTable{{Name: "products", Content: "SKU,Nome\n1,Pizza\n"}}}
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	a := NewAssembler(r, NewMemoryStore(), g, opts,
		WithTables(tables), WithClock(clock.now), WithLogger(zap.NewNop()))
	return a, r, g, tables, clock
}

func TestAsk_TwoTurnsThenClear(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(Options{})
	ctx := context.Background()

	if _, err := a.Ask(ctx, "s1", "Tem entrega?"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Ask(ctx, "s1", "E no domingo?"); err != nil {
		t.Fatal(err)
	}
	turns, err := a.Transcript(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "Tem entrega?"},
		{models.RoleAssistant, "resposta 1"},
		{models.RoleUser, "E no domingo?"},
		{models.RoleAssistant, "resposta 2"},
	}
	if len(turns) != len(want) {
		t.Fatalf("len = %d, want 4", len(turns))
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Content != w.content {
			t.Errorf("turn %d = %+v, want %v %q", i, turns[i], w.role, w.content)
		}
	}

	if err := a.ClearHistory(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	turns, _ = a.Transcript(ctx, "s1")
	if len(turns) != 0 {
		t.Errorf("after clear len = %d", len(turns))
	}
}

func TestAsk_PromptContents(t *testing.T) {
	a, r, g, tables, _ := newTestAssembler(Options{TopK: 3})
	ctx := context.Background()
	_, _ = a.Ask(ctx, "s1", "Tem entrega?")
	_, _ = a.Ask(ctx, "s1", "  E pizza?  ")

	if r.lastReq.K != 3 || r.lastReq.MaxDistance != 0 || r.lastReq.Query != "E pizza?" {
		t.Errorf("retrieve request = %+v", r.lastReq)
	}
	if tables.calls != 2 {
		t.Errorf("side tables loaded %d times, want once per ask", tables.calls)
	}
	p := g.prompts[1]
	if len(p.History) != 2 || p.History[0].Content != "Tem entrega?" || p.History[1].Content != "resposta 1" {
		t.Errorf("history = %+v", p.History)
	}
	user := p.UserContent()
	for _, want := range []string{"E pizza?", "Tem entrega?", "Answer: Sim", "products:", "1,Pizza"} {
		if !strings.Contains(user, want) {
			t.Errorf("user content lacks %q:\n%s", want, user)
		}
	}
	if !strings.Contains(p.System, "Brazilian Portuguese") {
		t.Errorf("system prompt = %q", p.System)
	}
}

func TestAsk_MaxTurnsDropsOldest(t *testing.T) {
	a, _, g, _, _ := newTestAssembler(Options{MaxTurns: 3})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := a.Ask(ctx, "s1", fmt.Sprintf("pergunta %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	turns, _ := a.Transcript(ctx, "s1")
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	if turns[0].Content != "resposta 2" || turns[1].Content != "pergunta 3" || turns[2].Content != "resposta 3" {
		t.Errorf("turns = %+v", turns)
	}
	last := g.prompts[2]
	if len(last.History) != 2 || last.History[0].Content != "pergunta 2" {
		t.Errorf("prompt history = %+v", last.History)
	}
}

func TestAsk_GenerationFailureKeepsUserTurn(t *testing.T) {
	a, _, g, _, _ := newTestAssembler(Options{})
	g.err = &models.UpstreamError{Op: "generate", Err: errors.New("503"), Retryable: true}
	_, err := a.Ask(context.Background(), "s1", "Tem entrega?")
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
	turns, _ := a.Transcript(context.Background(), "s1")
	if len(turns) != 1 || turns[0].Role != models.RoleUser {
		t.Errorf("turns = %+v", turns)
	}
}

func TestAsk_Validation(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(Options{})
	if _, err := a.Ask(context.Background(), "s1", "   "); !errors.Is(err, models.ErrValidation) {
		t.Errorf("blank query err = %v", err)
	}
	if _, err := a.Ask(context.Background(), "", "oi"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("blank session err = %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(Options{})
	ctx := context.Background()
	_, _ = a.Ask(ctx, "a", "oi")
	_, _ = a.Ask(ctx, "b", "olá")
	_ = a.ClearHistory(ctx, "a")
	ta, _ := a.Transcript(ctx, "a")
	tb, _ := a.Transcript(ctx, "b")
	if len(ta) != 0 || len(tb) != 2 {
		t.Errorf("a=%d b=%d", len(ta), len(tb))
	}
}

func TestConcurrentAsksKeepPairsAdjacent(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(Options{})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = a.Ask(ctx, "s1", fmt.Sprintf("q%d", i))
		}(i)
	}
	wg.Wait()
	turns, _ := a.Transcript(ctx, "s1")
	if len(turns) != 20 {
		t.Fatalf("len = %d", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != models.RoleUser || turns[i+1].Role != models.RoleAssistant {
			t.Errorf("turns %d,%d = %s,%s", i, i+1, turns[i].Role, turns[i+1].Role)
		}
	}
}

func (a *Assembler) lockCount() int {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	return len(a.locks)
}

func TestSessionLocksAreReleased(t *testing.T) {
	a, _, _, _, clock := newTestAssembler(Options{SessionTTL: time.Hour})
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if _, err := a.Transcript(ctx, fmt.Sprintf("visitor-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.Ask(ctx, "s1", "oi"); err != nil {
		t.Fatal(err)
	}
	if err := a.ClearHistory(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	if n := a.lockCount(); n != 0 {
		t.Errorf("locks held after calls returned = %d", n)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = a.Ask(ctx, fmt.Sprintf("s%d", i%3), "de novo")
		}(i)
	}
	wg.Wait()
	if n := a.lockCount(); n != 0 {
		t.Errorf("locks held after concurrent asks = %d", n)
	}

	clock.t = clock.t.Add(2 * time.Hour)
	if _, err := a.ExpireIdle(ctx); err != nil {
		t.Fatal(err)
	}
	if n := a.lockCount(); n != 0 {
		t.Errorf("locks after ExpireIdle = %d", n)
	}
}

func TestSessionTTL(t *testing.T) {
	a, _, _, _, clock := newTestAssembler(Options{SessionTTL: time.Hour})
	ctx := context.Background()
	_, _ = a.Ask(ctx, "idle", "oi")
	clock.t = clock.t.Add(30 * time.Minute)
	_, _ = a.Ask(ctx, "busy", "oi")

	clock.t = clock.t.Add(45 * time.Minute)
	turns, _ := a.Transcript(ctx, "idle")
	if len(turns) != 0 {
		t.Errorf("idle session still has %d turns", len(turns))
	}
	turns, _ = a.Transcript(ctx, "busy")
	if len(turns) != 2 {
		t.Errorf("busy session has %d turns", len(turns))
	}

	clock.t = clock.t.Add(time.Hour)
	n, err := a.ExpireIdle(ctx)
	if err != nil || n != 1 {
		t.Errorf("ExpireIdle = %d, %v", n, err)
	}
}

func TestSuggest(t *testing.T) {
	a, r, g, tables, _ := newTestAssembler(Options{})
	ctx := context.Background()
	examples := []models.RecordInput{{Question: "Aceita pix?", Answer: "Aceitamos pix"}}
	if _, err := a.Suggest(ctx, "Posso pagar com pix?", examples); err != nil {
		t.Fatal(err)
	}
	p := g.prompts[0]
	if len(p.Grounding) != 1 || p.Grounding[0].Answer != "Aceitamos pix" || len(p.History) != 0 || len(p.SideTables) != 0 {
		t.Errorf("prompt = %+v", p)
	}
	if tables.calls != 0 || r.lastReq.Query != "" {
		t.Error("suggest with examples should not retrieve or load tables")
	}

	if _, err := a.Suggest(ctx, "Tem entrega?", nil); err != nil {
		t.Fatal(err)
	}
	if r.lastReq.Query != "Tem entrega?" || g.prompts[1].Grounding[0].Question != "Tem entrega?" {
		t.Errorf("suggest without examples did not retrieve: %+v", r.lastReq)
	}
	if _, err := a.Suggest(ctx, " ", nil); !errors.Is(err, models.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}

func TestExtractiveGenerator(t *testing.T) {
	g := &ExtractiveGenerator{Fallback: "Não sei"}
	got, _ := g.Generate(context.Background(), &Prompt{Grounding: []*models.RetrievedRecord{{Answer: ""}, {Answer: "Sim"}}})
	if got != "Sim" {
		t.Errorf("got %q", got)
	}
	got, _ = g.Generate(context.Background(), &Prompt{})
	if got != "Não sei" {
		t.Errorf("got %q", got)
	}
}
