package keyword

import "testing"

func newTestIndex(t *testing.T, questions ...string) *QuestionIndex {
	t.Helper()
	idx, err := NewQuestionIndex()
	if err != nil {
		t.Fatalf("NewQuestionIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	if err := idx.Build(questions); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestQuestionIndex_SearchFindsQuestion(t *testing.T) {
	idx := newTestIndex(t, "Qual o horário de funcionamento?", "Vocês fazem entrega?", "Aceita cartão?")

	hits, err := idx.Search("entrega", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected a hit for \"entrega\"")
	}
	if hits[0].Position != 1 || hits[0].Question != "Vocês fazem entrega?" {
		t.Errorf("top hit = %+v", hits[0])
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %f", hits[0].Score)
	}
}

func TestQuestionIndex_AccentInsensitive(t *testing.T) {
	idx := newTestIndex(t, "Qual o horário?", "Aceita cartão?")
	for _, q := range []string{"horario", "HORÁRIO"} {
		hits, err := idx.Search(q, 5, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) == 0 || hits[0].Position != 0 {
			t.Errorf("Search(%q) = %+v", q, hits)
		}
	}
}

func TestQuestionIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t, "Vocês fazem entrega?")
	hits, _ := idx.Search("entraga", 5, nil)
	if len(hits) != 0 {
		t.Fatalf("exact search matched a typo: %+v", hits)
	}
	hits, err := idx.Search("entraga", 5, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("fuzzy hits = %+v", hits)
	}
}

func TestQuestionIndex_AddAndRebuild(t *testing.T) {
	idx := newTestIndex(t, "primeira pergunta")
	if err := idx.Add("segunda pergunta sobre pix"); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size = %d", idx.Size())
	}
	hits, _ := idx.Search("pix", 5, nil)
	if len(hits) != 1 || hits[0].Position != 1 {
		t.Errorf("hits after add = %+v", hits)
	}

	// Rebuild with the first question removed: positions shift down.
	if err := idx.Build([]string{"segunda pergunta sobre pix"}); err != nil {
		t.Fatal(err)
	}
	hits, _ = idx.Search("pix", 5, nil)
	if len(hits) != 1 || hits[0].Position != 0 {
		t.Errorf("hits after rebuild = %+v", hits)
	}
}

func TestQuestionIndex_Empty(t *testing.T) {
	idx := newTestIndex(t)
	hits, err := idx.Search("qualquer", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v", hits)
	}
	if hits, _ := idx.Search("   ", 5, nil); hits != nil {
		t.Errorf("blank query hits = %+v", hits)
	}
}
