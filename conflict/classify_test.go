package conflict

import (
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"hello", "hello", 0},
		{"hello", "hallo", 1},
		{"", "hello", 5},
		{"hello", "", 5},
		{"", "", 0},
		{"kitten", "sitting", 3},
		{"héllo", "hello", 1},
	}
	for _, tt := range tests {
		if got := LevenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestStringSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"hello", "hello", 1.0},
		{"", "", 1.0},
		{"hello", "hallo", 0.8},
		{"abcdefghij", "abcdefghix", 0.9},
		{"abc", "xyz", 0.0},
	}
	for _, tt := range tests {
		got := StringSimilarity(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("StringSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestChecksum(t *testing.T) {
	a, err := Checksum("hello world")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Checksum("hello world")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("checksum not deterministic: %q vs %q", a, b)
	}
	if len(a) != 8 {
		t.Errorf("checksum %q not 8 hex digits", a)
	}

	c, err := Checksum("hello world!")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("distinct values produced equal checksums")
	}
}

func TestClassify(t *testing.T) {
	d := NewDetector(&fakeVersionStore{})

	tests := []struct {
		name string
		item Item
		want Classification
	}{
		{
			name: "near identical strings auto merge",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  "The quick brown fox jumps over the lazy dog",
				RemoteVersion: "The quick brown fox jumps over the lazy dog!",
			},
			want: Classification{
				Severity:          SeverityLow,
				Category:          CategoryContent,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyMerge,
			},
		},
		{
			name: "moderately similar strings suggest three way merge",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  "abcdefghij",
				RemoteVersion: "abcdefghxy",
			},
			want: Classification{
				Severity:          SeverityMedium,
				Category:          CategoryContent,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyThreeWayMerge,
			},
		},
		{
			name: "divergent strings need the user",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  "completely different text",
				RemoteVersion: "nothing alike whatsoever!!",
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			},
		},
		{
			name: "objects with same shape merge",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  map[string]interface{}{"title": "Hi", "body": "a"},
				RemoteVersion: map[string]interface{}{"title": "Hey", "body": "b"},
			},
			want: Classification{
				Severity:          SeverityMedium,
				Category:          CategoryContent,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyMerge,
			},
		},
		{
			name: "objects with differing keys need the user",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  map[string]interface{}{"title": "Hi"},
				RemoteVersion: map[string]interface{}{"title": "Hi", "subtitle": "x"},
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			},
		},
		{
			name: "nested shape difference detected",
			item: Item{
				Type: ItemContent,
				LocalVersion: map[string]interface{}{
					"style": map[string]interface{}{"color": "red"},
				},
				RemoteVersion: map[string]interface{}{
					"style": map[string]interface{}{"color": "red", "size": "lg"},
				},
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			},
		},
		{
			name: "mixed value shapes are conservative",
			item: Item{
				Type:          ItemContent,
				LocalVersion:  "a string",
				RemoteVersion: map[string]interface{}{"title": "Hi"},
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			},
		},
		{
			name: "position conflicts accept remote",
			item: Item{
				Type:     ItemStructure,
				Metadata: Metadata{ChangeType: "position"},
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryStructure,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyAcceptRemote,
			},
		},
		{
			name: "structural deletes need the user",
			item: Item{
				Type:     ItemStructure,
				Metadata: Metadata{ChangeType: "delete"},
			},
			want: Classification{
				Severity:          SeverityHigh,
				Category:          CategoryStructure,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Classify(tt.item); got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
