package postgres

import "testing"

// Limit <= 0 must mean "no limit": balance reconciliation lists every
// delivered order and payment, and a capped query would silently undercount
// shops with long histories.
func TestAppendLimitHonorsUnlimitedReads(t *testing.T) {
	base := "SELECT 1 FROM orders WHERE shop_id = $1"

	query, args := appendLimit(base, []any{"shop-1"}, 0)
	if query != base {
		t.Fatalf("limit 0 must not add a LIMIT clause, got %q", query)
	}
	if len(args) != 1 {
		t.Fatalf("limit 0 must not add args, got %d", len(args))
	}

	query, args = appendLimit(base, []any{"shop-1"}, -5)
	if query != base || len(args) != 1 {
		t.Fatalf("negative limit must behave like no limit, got %q with %d args", query, len(args))
	}
}

func TestAppendLimitNumbersPlaceholders(t *testing.T) {
	query, args := appendLimit("SELECT 1 WHERE a = $1 AND b = $2", []any{"x", "y"}, 25)
	if want := "SELECT 1 WHERE a = $1 AND b = $2 LIMIT $3"; query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[2] != 25 {
		t.Fatalf("limit arg not appended: %v", args)
	}
}
