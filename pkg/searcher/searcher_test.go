package searcher

import (
	"reflect"
	"testing"
)

const searcherTestPrefix = "searcher:searcher_test"

func TestSearcher_UnorderedSubstring(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"Apple Pie"}, Doc: "pie"},
		{Queries: []string{"Banana Split"}, Doc: "split"},
		{Queries: []string{"Pineapple"}, Doc: "pineapple"},
	})

	got := s.Search("apple")
	if !reflect.DeepEqual(got, []string{"pie", "pineapple"}) {
		t.Fatalf("%s - unexpected result: %v", searcherTestPrefix, got)
	}
}

func TestSearcher_EmptyQueryReturnsAllUnchanged(t *testing.T) {
	s := New[int]()
	s.UpdateData([]Document[int]{
		{Queries: []string{"a"}, Doc: 1},
		{Queries: []string{"b"}, Doc: 2},
	})
	got := s.Search("")
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("%s - expected all docs unchanged, got %v", searcherTestPrefix, got)
	}
}

func TestSearcher_OrderedStableSortAndTruncate(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"fox"}, Order: 3, Doc: "c"},
		{Queries: []string{"fox"}, Order: 1, Doc: "a"},
		{Queries: []string{"fox"}, Order: 2, Doc: "b"},
		{Queries: []string{"fox"}, Order: 0, Doc: "zero"},
	})

	got := s.Search("fox", Ordered(3))
	if !reflect.DeepEqual(got, []string{"zero", "a", "b"}) {
		t.Fatalf("%s - unexpected ordered+truncated result: %v", searcherTestPrefix, got)
	}
}

func TestSearcher_CaseInsensitiveAtIngestAndQuery(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{{Queries: []string{"HELLO World"}, Doc: "greet"}})

	got := s.Search("WORLD")
	if !reflect.DeepEqual(got, []string{"greet"}) {
		t.Errorf("%s - expected case-insensitive match, got %v", searcherTestPrefix, got)
	}
}

func TestSearcher_NoMatchReturnsEmptyNotNil(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{{Queries: []string{"x"}, Doc: "x"}})
	got := s.Search("zzz")
	if got == nil {
		t.Errorf("%s - expected an empty, non-nil slice, got nil", searcherTestPrefix)
	}
	if len(got) != 0 {
		t.Errorf("%s - expected no matches, got %v", searcherTestPrefix, got)
	}
}
