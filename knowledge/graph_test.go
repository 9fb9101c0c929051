package knowledge

import (
	"context"
	"reflect"
	"testing"
)

func TestParseAuthors(t *testing.T) {
	text := "Title: Attention Is All You Need\n\nAuthors: Ashish Vaswani, Noam  Shazeer and Niki Parmar; Ashish Vaswani\n\nAbstract: ..."
	got := ParseAuthors(text)
	want := []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseAuthors = %v, want %v", got, want)
	}
}

func TestParseAuthorsMissingLine(t *testing.T) {
	if got := ParseAuthors("Title: X\n\nAbstract: Y"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSyncPaperRequiresDriver(t *testing.T) {
	if err := SyncPaper(context.Background(), nil, Paper{Source: "https://arxiv.org/abs/1"}); err == nil {
		t.Fatal("expected error for nil driver")
	}
	if err := DeleteSession(context.Background(), nil, "abc"); err == nil {
		t.Fatal("expected error for nil driver")
	}
}
