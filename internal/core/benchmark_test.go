package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/store/memstore"
)

// generateReceivingCSV builds a supplier sheet with messy but realistic values:
// mixed-case brands, a handful of supplier spellings, and currency-formatted costs.
func generateReceivingCSV(rows int) []byte {
	faker := gofakeit.New(42)
	brands := []string{"Dell", "dell", "DELL ", "HP", "hp", "Lenovo", "lenovo", "Apple"}
	suppliers := []string{"Acme Ltd", "ACME LTD", "Acme", "Globex", "globex corp"}
	ram := []string{"8GB", "16GB", "2x8GB", "8GB*2", "16GB (2x8GB)", "32GB"}
	disks := []string{"256GB SSD", "512GB NVMe", "1TB HDD", "1TB Hynix/2TB Samsung", "Varies"}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Serial", "Brand", "Model", "Type", "Supplier", "Unit Price", "RAM", "Storage", "Notes"})
	for i := 0; i < rows; i++ {
		_ = w.Write([]string{
			fmt.Sprintf("SN%06d", i),
			faker.RandomString(brands),
			faker.RandomString([]string{"Latitude 5420", "EliteBook 840", "ThinkPad T14", "MacBook Air"}),
			faker.RandomString([]string{"Laptop", "laptop", "Notebook"}),
			faker.RandomString(suppliers),
			fmt.Sprintf("$%.2f", faker.Price(50, 2500)),
			faker.RandomString(ram),
			faker.RandomString(disks),
			faker.Sentence(4),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func benchmarkService(b *testing.B) (*Service, uuid.UUID) {
	b.Helper()
	svc := NewService(catalog.Default(), memstore.New(), Options{})
	company := uuid.New()
	if _, err := svc.SeedColumnRules(context.Background(), company); err != nil {
		b.Fatal(err)
	}
	return svc, company
}

// BenchmarkStartImport measures decode plus column suggestion.
func BenchmarkStartImport(b *testing.B) {
	svc, company := benchmarkService(b)
	data := generateReceivingCSV(1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := svc.StartImport(ctx, company, "bench.csv", data)
		if err != nil {
			b.Fatal(err)
		}
		_ = svc.Discard(ctx, s.ID)
	}
}

// BenchmarkConfirmMappings measures the normalize snapshot over 1000 rows.
func BenchmarkConfirmMappings(b *testing.B) {
	svc, company := benchmarkService(b)
	data := generateReceivingCSV(1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		s, err := svc.StartImport(ctx, company, "bench.csv", data)
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		if _, err := svc.ConfirmMappings(ctx, s.ID, false); err != nil {
			b.Fatal(err)
		}
		_ = svc.Discard(ctx, s.ID)
	}
}

// BenchmarkPreview measures line item materialization with component parsing.
func BenchmarkPreview(b *testing.B) {
	svc, company := benchmarkService(b)
	ctx := context.Background()

	s, err := svc.StartImport(ctx, company, "bench.csv", generateReceivingCSV(1000))
	if err != nil {
		b.Fatal(err)
	}
	if s, err = svc.ConfirmMappings(ctx, s.ID, false); err != nil {
		b.Fatal(err)
	}
	groups, err := svc.Groups(ctx, s.ID)
	if err != nil {
		b.Fatal(err)
	}
	decisions := make([]normalize.Decision, 0, len(groups))
	for _, g := range groups {
		decisions = append(decisions, normalize.Decision{Field: g.Field, Variants: g.OriginalValues(), Action: normalize.Skip{}})
	}
	if _, err := svc.SubmitDecisions(ctx, s.ID, decisions); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Preview(ctx, s.ID, CommitOptions{ExchangeRate: "1.08"}); err != nil {
			b.Fatal(err)
		}
	}
}
