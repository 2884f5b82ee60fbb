package shared

import "testing"

func TestChunk(t *testing.T) {
	tc := []struct {
		name      string
		items     []string
		size      int
		wantLens  []int
		wantFirst string
	}{
		{
			name:      "even split",
			items:     []string{"a", "b", "c", "d"},
			size:      2,
			wantLens:  []int{2, 2},
			wantFirst: "a",
		},
		{
			name:      "ragged tail",
			items:     []string{"a", "b", "c", "d", "e"},
			size:      2,
			wantLens:  []int{2, 2, 1},
			wantFirst: "a",
		},
		{
			name:      "size larger than input",
			items:     []string{"a", "b"},
			size:      100,
			wantLens:  []int{2},
			wantFirst: "a",
		},
		{
			name:      "zero size keeps one chunk",
			items:     []string{"a", "b", "c"},
			size:      0,
			wantLens:  []int{3},
			wantFirst: "a",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.items, tt.size)
			if len(got) != len(tt.wantLens) {
				t.Fatalf("Chunk() produced %d chunks, want %d", len(got), len(tt.wantLens))
			}
			for i, want := range tt.wantLens {
				if len(got[i]) != want {
					t.Errorf("chunk %d has %d items, want %d", i, len(got[i]), want)
				}
			}
			if got[0][0] != tt.wantFirst {
				t.Errorf("first element = %v, want %v", got[0][0], tt.wantFirst)
			}
		})
	}

	t.Run("empty input", func(t *testing.T) {
		if got := Chunk([]int{}, 3); got != nil {
			t.Errorf("Chunk() on empty input = %v, want nil", got)
		}
	})

	t.Run("order preserved across chunks", func(t *testing.T) {
		items := []int{1, 2, 3, 4, 5, 6, 7}
		flat := []int{}
		for _, chunk := range Chunk(items, 3) {
			flat = append(flat, chunk...)
		}
		for i, v := range items {
			if flat[i] != v {
				t.Fatalf("flattened[%d] = %d, want %d", i, flat[i], v)
			}
		}
	})
}

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	if a == "" || b == "" {
		t.Fatal("GenerateID() returned empty string")
	}

	if a == b {
		t.Errorf("GenerateID() returned duplicate ids: %s", a)
	}
}
