package upload_test

import (
	"reflect"
	"testing"

	"radiologger/internal/upload"
)

func TestMergeDiff(t *testing.T) {
	remote := []string{"b", "d", "a", "d", "e"}
	catalog := []string{"c", "a", "b", "f", "c"}

	diff := upload.MergeDiff(remote, catalog)
	if !reflect.DeepEqual(diff.Missing, []string{"d", "e"}) {
		t.Fatalf("unexpected missing %v", diff.Missing)
	}
	if !reflect.DeepEqual(diff.Orphaned, []string{"c", "f"}) {
		t.Fatalf("unexpected orphaned %v", diff.Orphaned)
	}
	if remote[0] != "b" || catalog[0] != "c" {
		t.Fatal("inputs must not be reordered")
	}
}

func TestMergeDiffEmpty(t *testing.T) {
	diff := upload.MergeDiff(nil, nil)
	if len(diff.Missing) != 0 || len(diff.Orphaned) != 0 {
		t.Fatalf("expected empty diff, got %+v", diff)
	}
	diff = upload.MergeDiff(nil, []string{"x"})
	if !reflect.DeepEqual(diff.Orphaned, []string{"x"}) {
		t.Fatalf("unexpected orphaned %v", diff.Orphaned)
	}
}
