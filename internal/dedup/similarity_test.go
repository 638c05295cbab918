package dedup

import (
	"testing"

	"direct-debit-engine/internal/models"
)

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Jan de Vries", "Jan de Vries", 1.0, 1.0},
		{"case and spacing", "jan  de vries", "Jan de Vries", 1.0, 1.0},
		{"diacritics folded", "Jürgen Müller", "Jurgen Muller", 1.0, 1.0},
		{"reordered tokens", "de Vries Jan", "Jan de Vries", 0.6, 1.0},
		{"typo", "Jan de Vreis", "Jan de Vries", 0.8, 1.0},
		{"different people", "Maria Hendriks", "Jan de Vries", 0.0, 0.5},
		{"empty side", "", "Jan de Vries", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := nameSimilarity(tt.a, tt.b)
			if score < tt.min || score > tt.max {
				t.Errorf("nameSimilarity(%q, %q) = %.3f, want in [%.2f, %.2f]",
					tt.a, tt.b, score, tt.min, tt.max)
			}
		})
	}
}

func TestNameSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Jan de Vries", "de Vries Jan"},
		{"Jürgen Müller", "Jurgen Muller"},
		{"Anna Bakker", "Anne Bakker"},
	}
	for _, pair := range pairs {
		forward := nameSimilarity(pair[0], pair[1])
		backward := nameSimilarity(pair[1], pair[0])
		if forward != backward {
			t.Errorf("nameSimilarity(%q, %q) = %.6f but reversed = %.6f",
				pair[0], pair[1], forward, backward)
		}
	}
}

func TestIBANSimilarity(t *testing.T) {
	if ibanSimilarity("NL91ABNA0417164300", "NL91 ABNA 0417 1643 00") != 1.0 {
		t.Error("Spacing must not affect account comparison")
	}
	if ibanSimilarity("NL91ABNA0417164300", "NL69INGB0123456789") != 0.0 {
		t.Error("Different accounts must score zero")
	}
	// A near-miss account number is still a different account
	if ibanSimilarity("NL91ABNA0417164300", "NL91ABNA0417164301") != 0.0 {
		t.Error("Near-miss account must score zero")
	}
	if ibanSimilarity("", "NL91ABNA0417164300") != 0.0 {
		t.Error("Missing account must score zero")
	}
}

func TestEmailSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "jan@example.org", "jan@example.org", 1.0},
		{"case insensitive", "Jan@Example.org", "jan@example.org", 1.0},
		{"provider switch", "jan@example.org", "jan@gmail.com", 0.8},
		{"registration typo", "jan.devries@example.org", "jan.devried@example.org", 0.6},
		{"shared domain only", "jan@example.org", "maria@example.org", 0.0},
		{"unrelated", "jan@example.org", "info@bedrijf.nl", 0.0},
		{"empty side", "", "jan@example.org", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := emailSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("emailSimilarity(%q, %q) = %.2f, want %.2f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDirectoryIndex(t *testing.T) {
	members := []*models.Member{
		member("M-001", "Jan", "de Vries", "jan@example.org", "NL91ABNA0417164300"),
		member("M-002", "Maria", "Hendriks", "maria@example.org", "NL91 ABNA 0417 1643 00"),
		member("M-003", "Anna", "Bakker", "anna@example.org", "NL69INGB0123456789"),
		{FirstName: "No", LastName: "ID"},
	}

	index := NewDirectoryIndex(members)

	if index.Size() != 3 {
		t.Errorf("Expected 3 indexed members, got %d", index.Size())
	}
	if index.ByID("M-002") == nil {
		t.Error("Expected M-002 in the ID index")
	}
	if got := index.ByIBAN("NL91ABNA0417164300"); len(got) != 2 {
		t.Errorf("Expected 2 members on the shared account, got %d", len(got))
	}
	if index.SharedAccountCount() != 1 {
		t.Errorf("Expected 1 shared account, got %d", index.SharedAccountCount())
	}
}
