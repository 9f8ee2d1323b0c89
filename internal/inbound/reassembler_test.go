package inbound

import (
	"errors"
	"strings"
	"testing"

	"github.com/groundgame/textrelay/internal/model"
)

func part(index, total int, body string) model.PendingMessagePart {
	return model.PendingMessagePart{
		Service:   model.ServiceVonage,
		ParentID:  "grp-1",
		PartIndex: index,
		PartTotal: total,
		Body:      body,
	}
}

func TestConvert_OrderIndependent(t *testing.T) {
	t.Parallel()

	inOrder := []model.PendingMessagePart{part(1, 3, "one "), part(2, 3, "two "), part(3, 3, "three")}
	scrambled := []model.PendingMessagePart{part(3, 3, "three"), part(1, 3, "one "), part(2, 3, "two ")}

	a, _, err := Convert(inOrder)
	if err != nil {
		t.Fatalf("convert in-order: %v", err)
	}
	b, _, err := Convert(scrambled)
	if err != nil {
		t.Fatalf("convert scrambled: %v", err)
	}

	if a != b {
		t.Fatalf("arrival order changed the result: %q vs %q", a, b)
	}
	if a != "one two three" {
		t.Fatalf("unexpected body %q", a)
	}
}

func TestConvert_IncompleteGroup(t *testing.T) {
	t.Parallel()

	_, _, err := Convert([]model.PendingMessagePart{part(1, 3, "one "), part(3, 3, "three")})
	if !errors.Is(err, errIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}

	// Completeness follows the highest declared total, so a lone part that
	// claims 2 siblings is still pending.
	_, _, err = Convert([]model.PendingMessagePart{part(2, 3, "two ")})
	if !errors.Is(err, errIncomplete) {
		t.Fatalf("expected incomplete error for partial group, got %v", err)
	}
}

func TestConvert_SinglePart(t *testing.T) {
	t.Parallel()

	body, numMedia, err := Convert([]model.PendingMessagePart{part(1, 1, "hello")})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if body != "hello" || numMedia != 0 {
		t.Fatalf("got body=%q media=%d", body, numMedia)
	}
}

func TestConvert_StripsNulBytes(t *testing.T) {
	t.Parallel()

	body, _, err := Convert([]model.PendingMessagePart{part(1, 1, "he\x00ll\x00o")})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if body != "hello" {
		t.Fatalf("NUL bytes not stripped: %q", body)
	}
}

func TestConvert_MediaNote(t *testing.T) {
	t.Parallel()

	p := part(1, 1, "see attached")
	p.NumMedia = 2

	body, numMedia, err := Convert([]model.PendingMessagePart{p})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if numMedia != 2 {
		t.Fatalf("expected media count 2, got %d", numMedia)
	}
	if !strings.Contains(body, "2 media attachment(s) were received but not transferred") {
		t.Fatalf("missing media note in %q", body)
	}
	if !strings.HasPrefix(body, "see attached") {
		t.Fatalf("note must follow the text, got %q", body)
	}
}
