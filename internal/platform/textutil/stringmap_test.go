package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeMetadata(t *testing.T) {
	t.Run("trims and drops empties", func(t *testing.T) {
		input := map[string]string{
			" return_id ": " ret_1 ",
			"order_id":    "ord_1",
			"note":        " ",
			" ":           "ignored",
		}
		expected := map[string]string{"return_id": "ret_1", "order_id": "ord_1"}
		if got := NormalizeMetadata(input, 0, 0); !reflect.DeepEqual(got, expected) {
			t.Fatalf("expected %#v got %#v", expected, got)
		}
	})

	t.Run("truncates by rune", func(t *testing.T) {
		got := NormalizeMetadata(map[string]string{"ghi_chú": strings.Repeat("đ", 10)}, 3, 4)
		if got["ghi"] != "đđđđ" {
			t.Fatalf("unexpected %#v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := NormalizeMetadata(nil, 40, 500); got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})
}

func TestSanitizeNote(t *testing.T) {
	got := SanitizeNote("  <b>Size</b>   too\nsmall <script>alert(1)</script> ")
	if got != "Size too small" {
		t.Fatalf("unexpected note %q", got)
	}
	long := SanitizeNote(strings.Repeat("a", MaxNoteLength+10))
	if len(long) != MaxNoteLength {
		t.Fatalf("expected truncation to %d, got %d", MaxNoteLength, len(long))
	}
}
